package profiles

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// VendorIndex is the index.yaml a vendor directory ships alongside its
// profile JSON files.
type VendorIndex struct {
	Vendor      string       `yaml:"vendor"`
	Description string       `yaml:"description"`
	Website     string       `yaml:"website"`
	Profiles    []ProfileRef `yaml:"profiles"`
}

type ProfileRef struct {
	ID          string `yaml:"id"`
	File        string `yaml:"file"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tested      bool   `yaml:"tested"`
	Datasheet   string `yaml:"datasheet"`
}

// Catalog lists every vendor index found under the configured search paths.
// Missing or unreadable indexes are logged and skipped, not fatal.
func Catalog(searchPaths []string, logger *zap.Logger) []VendorIndex {
	vendors := make([]VendorIndex, 0)

	for _, searchPath := range searchPaths {
		indexPath := filepath.Join(searchPath, "index.yaml")

		data, err := os.ReadFile(indexPath)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Failed to read vendor index",
					zap.String("path", indexPath),
					zap.Error(err))
			}
			continue
		}

		var index VendorIndex
		if err := yaml.Unmarshal(data, &index); err != nil {
			logger.Error("Invalid vendor index",
				zap.String("path", indexPath),
				zap.Error(err))
			continue
		}

		vendors = append(vendors, index)
	}

	return vendors
}

// Resolve maps a profile id to its ref across all vendor indexes.
func Resolve(searchPaths []string, profileID string, logger *zap.Logger) (*ProfileRef, error) {
	for _, vendor := range Catalog(searchPaths, logger) {
		for _, ref := range vendor.Profiles {
			if ref.ID == profileID {
				return &ref, nil
			}
		}
	}
	return nil, fmt.Errorf("profile %s not listed in any vendor index", profileID)
}
