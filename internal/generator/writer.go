package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	CatalogFile  = "catalog.json"
	ShoppersFile = "shoppers.json"
)

// WriteDataset serializes the dataset into catalog.json and shoppers.json under the provided directory.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, CatalogFile), dataset.Catalog); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ShoppersFile), dataset.Shoppers); err != nil {
		return err
	}
	return nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}
