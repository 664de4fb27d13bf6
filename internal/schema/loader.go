package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir читает все схемы (*.yaml, *.yml) из папки, по одной схеме на файл.
func LoadDir(dir string) ([]RecordSchema, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if strings.HasSuffix(file.Name(), ".yaml") || strings.HasSuffix(file.Name(), ".yml") {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	result := make([]RecordSchema, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var s RecordSchema
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		// entity_type можно не указывать, тогда берём из имени файла
		if strings.TrimSpace(s.EntityType) == "" {
			s.EntityType = strings.TrimSuffix(name, filepath.Ext(name))
		}
		result = append(result, s)
	}
	return result, nil
}

// RegisterDir регистрирует схемы из папки. Уже зарегистрированные схемы той же
// формы пропускаются, несовместимые дают ошибку.
func RegisterDir(ctx context.Context, reg *Registry, dir string) (int, error) {
	list, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range list {
		if _, err := reg.Register(ctx, s); err != nil {
			return n, fmt.Errorf("register %s: %w", s.EntityType, err)
		}
		n++
	}
	return n, nil
}
