package worker

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是一个 worker 版本的预缓存清单。Static 为同源路径，External 为
// 完整的跨域 URL，二者都按声明顺序写入分区。
type Manifest struct {
	Version       string   `yaml:"version"`
	Static        []string `yaml:"static"`
	External      []string `yaml:"external"`
	FallbackImage string   `yaml:"fallback_image"`
}

// DefaultManifest 返回 Khuddam 站点内置的预缓存清单。
func DefaultManifest() *Manifest {
	return &Manifest{
		Static: []string{
			"/",
			"/index.html",
			"/about.html",
			"/registration-form.html",
			"/contact-form.html",

			"/css/critical.css",

			"/js/main.js",
			"/js/loader.js",
			"/sw.js",

			"/images/khuddam-logo-white.png",
			"/images/image1.webp",
			"/images/Quran photo.webp",
			"/images/kaaba2.webp",
			"/images/barcode.png",
			"/images/enrollment-post.png",
			"/images/aboutus.jpeg",
			"/images/teacher1.jpeg",

			"/images/gallery/arabicclass1.webp",
			"/images/gallery/arabicclass2.webp",
			"/images/gallery/arabicclass3.webp",
			"/images/gallery/arabicclass4.webp",
			"/images/gallery/arabicclass5.webp",
			"/images/gallery/arabicclass8.webp",
			"/images/gallery/arabicclass9.webp",
			"/images/gallery/arabicclass10.webp",
			"/images/gallery/arabicclass12.webp",

			"/30fps.mp4",
		},
		External: []string{
			"https://cdn.tailwindcss.com",

			"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
			"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/webfonts/fa-solid-900.woff2",

			"https://fonts.googleapis.com/css2?family=Amiri:wght@400;700&display=swap",
			"https://fonts.googleapis.com/css2?family=Poppins:wght@400;500;600;700&display=swap",
			"https://fonts.googleapis.com/css2?family=Amiri:ital,wght@0,400;0,700;1,400&family=Poppins:wght@300;400;500;600;700&display=swap",

			"https://unpkg.com/aos@next/dist/aos.css",
			"https://unpkg.com/aos@next/dist/aos.js",
		},
		FallbackImage: "/images/image1.webp",
	}
}

// LoadManifest 读取 YAML 清单并校验。
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate 要求 Static 均为以 / 开头的路径，External 均为 http(s) 绝对 URL。
func (m *Manifest) Validate() error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	if strings.ContainsAny(m.Version, "/\\: ") {
		return fmt.Errorf("invalid version %q", m.Version)
	}
	for _, p := range m.Static {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("static entry must be an absolute path: %q", p)
		}
	}
	for _, raw := range m.External {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("external entry %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("external entry must be an absolute http(s) url: %q", raw)
		}
	}
	if m.FallbackImage != "" && !strings.HasPrefix(m.FallbackImage, "/") {
		return fmt.Errorf("fallback_image must be an absolute path: %q", m.FallbackImage)
	}
	return nil
}

// ResolveVersion 返回生效的版本号：清单 > fallback > "v1"。
func (m *Manifest) ResolveVersion(fallback string) string {
	if m != nil && strings.TrimSpace(m.Version) != "" {
		return strings.TrimSpace(m.Version)
	}
	if strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback)
	}
	return "v1"
}

// StaticURLs 将同源路径解析为 origin 下的绝对 URL。
func (m *Manifest) StaticURLs(origin *url.URL) ([]string, error) {
	return resolveAll(origin, m.Static)
}

// FallbackURL 返回兜底图片的绝对 URL；未配置时返回空串。
func (m *Manifest) FallbackURL(origin *url.URL) (string, error) {
	if m.FallbackImage == "" {
		return "", nil
	}
	urls, err := resolveAll(origin, []string{m.FallbackImage})
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

func resolveAll(origin *url.URL, paths []string) ([]string, error) {
	if origin == nil {
		return nil, errors.New("origin required")
	}
	resolved := make([]string, len(paths))
	for i, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		resolved[i] = origin.ResolveReference(ref).String()
	}
	return resolved, nil
}
