// Package config holds the immutable run configuration for imgslim.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the optional per-project config file looked up in the root.
const FileName = ".imgslim.yaml"

const (
	ScopeExtension = "extension"
	ScopeRenamed   = "renamed"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Quality         int      `yaml:"quality" validate:"gte=0,lte=100"`
	BackupDir       string   `yaml:"backup_dir" validate:"required,excludesall=/\\,ne=.,ne=.."`
	ExcludedDirs    []string `yaml:"excluded_dirs" validate:"dive,required"`
	ImageExtensions []string `yaml:"image_extensions" validate:"required,min=1,dive,required"`
	MarkupExtension string   `yaml:"markup_extension" validate:"required"`
	TargetExtension string   `yaml:"target_extension" validate:"required"`
	RewriteScope    string   `yaml:"rewrite_scope" validate:"oneof=extension renamed"`
}

func Default() Config {
	return Config{
		Quality:         82,
		BackupDir:       "backup_images",
		ExcludedDirs:    []string{".git", "node_modules", "__pycache__"},
		ImageExtensions: []string{".jpg", ".jpeg", ".png"},
		MarkupExtension: ".html",
		TargetExtension: ".webp",
		RewriteScope:    ScopeExtension,
	}
}

// Load layers the YAML file at path over Default. The result is not yet
// normalized; call Finalize once all overrides are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads explicit when set, otherwise root/FileName if it exists,
// otherwise Default.
func Resolve(root, explicit string) (Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	candidate := filepath.Join(root, FileName)
	if _, err := os.Stat(candidate); err == nil {
		return Load(candidate)
	} else if !os.IsNotExist(err) {
		return Default(), err
	}
	return Default(), nil
}

// Finalize normalizes extensions and directory names and validates the
// result. The returned value is what the optimizer is built from.
func (c Config) Finalize() (Config, error) {
	out := Config{
		Quality:         c.Quality,
		BackupDir:       strings.TrimSpace(c.BackupDir),
		MarkupExtension: normalizeExt(c.MarkupExtension),
		TargetExtension: normalizeExt(c.TargetExtension),
		RewriteScope:    strings.ToLower(strings.TrimSpace(c.RewriteScope)),
	}
	if out.RewriteScope == "" {
		out.RewriteScope = ScopeExtension
	}

	exts := make([]string, 0, len(c.ImageExtensions))
	for _, ext := range c.ImageExtensions {
		exts = append(exts, normalizeExt(ext))
	}
	out.ImageExtensions = uniqueSorted(exts)

	dirs := make([]string, 0, len(c.ExcludedDirs)+1)
	for _, dir := range c.ExcludedDirs {
		dirs = append(dirs, strings.TrimSpace(dir))
	}
	if out.BackupDir != "" {
		dirs = append(dirs, out.BackupDir)
	}
	out.ExcludedDirs = uniqueSorted(dirs)

	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, ext := range c.ImageExtensions {
		if ext == c.TargetExtension {
			return fmt.Errorf("%w: target extension %s is also an input extension", ErrInvalid, ext)
		}
	}
	return nil
}

// IsImage reports whether ext (any case) is a recognized input extension.
func (c Config) IsImage(ext string) bool {
	ext = strings.ToLower(ext)
	for _, candidate := range c.ImageExtensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
