// Package settings persists per-user tool defaults. Staged files and passwords are
// never written here.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const schemaVersion = 1

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	CompressionLossy    = "lossy"
	CompressionLossless = "lossless"

	ResizeDimensions = "dimensions"
	ResizePercentage = "percentage"

	maxRecentTools = 5
)

type Settings struct {
	SchemaVersion        int      `json:"schema_version"`
	PDFToImageFormat     string   `json:"pdf_to_image_format"`
	ImageCompressionMode string   `json:"image_compression_mode"`
	ResizeMode           string   `json:"resize_mode"`
	LastOutputFolder     string   `json:"last_output_folder,omitempty"`
	RecentTools          []string `json:"recent_tools"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

// TouchTool moves toolID to the front of the recent list.
func (s *Settings) TouchTool(toolID string) {
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return
	}
	recent := []string{toolID}
	for _, id := range s.RecentTools {
		if id != toolID && len(recent) < maxRecentTools {
			recent = append(recent, id)
		}
	}
	s.RecentTools = recent
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion:        schemaVersion,
		PDFToImageFormat:     FormatPNG,
		ImageCompressionMode: CompressionLossy,
		ResizeMode:           ResizeDimensions,
		RecentTools:          []string{},
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	settings.PDFToImageFormat = normalizeFormat(settings.PDFToImageFormat)
	settings.ImageCompressionMode = normalizeChoice(settings.ImageCompressionMode, CompressionLossy, CompressionLossless)
	settings.ResizeMode = normalizeChoice(settings.ResizeMode, ResizeDimensions, ResizePercentage)
	settings.LastOutputFolder = strings.TrimSpace(settings.LastOutputFolder)
	if settings.RecentTools == nil {
		settings.RecentTools = []string{}
	}
	if len(settings.RecentTools) > maxRecentTools {
		settings.RecentTools = settings.RecentTools[:maxRecentTools]
	}
}

func normalizeFormat(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case FormatJPEG, "jpg":
		return FormatJPEG
	default:
		return FormatPNG
	}
}

// normalizeChoice returns value when it is one of the allowed choices, else the first.
func normalizeChoice(value string, choices ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, c := range choices {
		if v == c {
			return c
		}
	}
	return choices[0]
}
