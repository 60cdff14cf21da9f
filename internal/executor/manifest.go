package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
)

// ManifestItem — строка манифеста упаковки: один связанный выход.
type ManifestItem struct {
	Filename string `json:"filename"`
	ModuleID string `json:"module_id"`
	ItemID   string `json:"item_id"`
	SHA256   string `json:"sha256"`
	Bytes    int64  `json:"bytes"`
	MimeType string `json:"mime_type,omitempty"`
}

// Manifest — детерминированный манифест упаковки.
type Manifest struct {
	SchemaVersion string         `json:"schema_version"`
	Items         []ManifestItem `json:"items"`
}

// ManifestFilename — каноническое имя файла в бандле:
// <tenant>-<wo>-<module>-<item>-<короткий хэш><расширение исходного файла>.
func ManifestFilename(tenantID, workOrderID, moduleID, itemID, sha256, sourcePath string) string {
	short := sha256
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s%s",
		tenantID, workOrderID, moduleID, itemID, short, filepath.Ext(sourcePath))
}

// BuildManifest строит манифест с канонической сортировкой строк:
// одинаковый набор выходов в любом входном порядке даёт побайтно
// одинаковый манифест.
func BuildManifest(items []ManifestItem) Manifest {
	sorted := make([]ManifestItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Filename != sorted[j].Filename {
			return sorted[i].Filename < sorted[j].Filename
		}
		return sorted[i].ItemID < sorted[j].ItemID
	})
	return Manifest{SchemaVersion: "1", Items: sorted}
}

// Encode сериализует манифест в канонический JSON.
func (m Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("executor: encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
