// Package catalog loads the tool catalog shown on the home screen. Icons and tags
// are closed sets resolved when the catalog is loaded, so the UI never looks up an
// arbitrary string at render time.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var defaultCatalog []byte

type Icon string

const FallbackIcon Icon = "File"

var knownIcons = map[Icon]bool{
	FallbackIcon: true,
	"FileStack":  true,
	"Layers":     true,
	"RotateCw":   true,
	"Minimize2":  true,
	"Lock":       true,
	"Unlock":     true,
	"FileImage":  true,
	"Images":     true,
	"Scaling":    true,
	"ImageDown":  true,
}

type Tag string

const FallbackTag Tag = "other"

var knownTags = map[Tag]bool{
	FallbackTag: true,
	"pdf":       true,
	"image":     true,
	"merge":     true,
	"organize":  true,
	"edit":      true,
	"optimize":  true,
	"security":  true,
	"convert":   true,
}

type Workflow string

const (
	WorkflowMerge         Workflow = "merge"
	WorkflowMergeAll      Workflow = "merge_all"
	WorkflowRotate        Workflow = "rotate"
	WorkflowCompressPDF   Workflow = "compress_pdf"
	WorkflowProtectPDF    Workflow = "protect_pdf"
	WorkflowDecryptPDF    Workflow = "decrypt_pdf"
	WorkflowPDFToImage    Workflow = "pdf_to_image"
	WorkflowImageToPDF    Workflow = "image_to_pdf"
	WorkflowResizeImage   Workflow = "resize_image"
	WorkflowCompressImage Workflow = "compress_image"
)

var knownWorkflows = map[Workflow]bool{
	WorkflowMerge:         true,
	WorkflowMergeAll:      true,
	WorkflowRotate:        true,
	WorkflowCompressPDF:   true,
	WorkflowProtectPDF:    true,
	WorkflowDecryptPDF:    true,
	WorkflowPDFToImage:    true,
	WorkflowImageToPDF:    true,
	WorkflowResizeImage:   true,
	WorkflowCompressImage: true,
}

// Accepted source kinds.
const (
	AcceptPDF   = "pdf"
	AcceptImage = "image"
)

type Tool struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Icon        Icon     `yaml:"icon" json:"icon"`
	Color       string   `yaml:"color" json:"color"`
	Workflow    Workflow `yaml:"workflow" json:"workflow"`
	Accepts     []string `yaml:"accepts" json:"accepts"`
	Multiple    bool     `yaml:"multiple" json:"multiple"`
	Tags        []Tag    `yaml:"tags" json:"tags"`
}

// AcceptsImages reports whether the tool stages images.
func (t Tool) AcceptsImages() bool {
	for _, a := range t.Accepts {
		if a == AcceptImage {
			return true
		}
	}
	return false
}

func (t Tool) AcceptsPDF() bool {
	for _, a := range t.Accepts {
		if a == AcceptPDF {
			return true
		}
	}
	return false
}

type file struct {
	Tools []Tool `yaml:"tools"`
}

type Catalog struct {
	tools []Tool
	byID  map[string]int
	// Warnings lists the values replaced by fallbacks while loading.
	Warnings []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in tool catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Tools) == 0 {
		return nil, errors.New("catalog has no tools")
	}
	c := &Catalog{byID: make(map[string]int, len(f.Tools))}
	for _, tool := range f.Tools {
		tool.ID = strings.TrimSpace(tool.ID)
		if tool.ID == "" {
			return nil, errors.New("catalog tool without id")
		}
		if _, dup := c.byID[tool.ID]; dup {
			return nil, fmt.Errorf("duplicate tool id %q", tool.ID)
		}
		if !knownWorkflows[tool.Workflow] {
			return nil, fmt.Errorf("tool %q: unknown workflow %q", tool.ID, tool.Workflow)
		}
		if !knownIcons[tool.Icon] {
			c.Warnings = append(c.Warnings, fmt.Sprintf("tool %q: icon %q replaced by %q", tool.ID, tool.Icon, FallbackIcon))
			tool.Icon = FallbackIcon
		}
		tags := make([]Tag, 0, len(tool.Tags))
		for _, tag := range tool.Tags {
			tag = Tag(strings.ToLower(strings.TrimSpace(string(tag))))
			if !knownTags[tag] {
				c.Warnings = append(c.Warnings, fmt.Sprintf("tool %q: tag %q replaced by %q", tool.ID, tag, FallbackTag))
				tag = FallbackTag
			}
			tags = append(tags, tag)
		}
		tool.Tags = tags
		accepts := make([]string, 0, len(tool.Accepts))
		for _, kind := range tool.Accepts {
			kind = strings.ToLower(strings.TrimSpace(kind))
			if kind != AcceptPDF && kind != AcceptImage {
				return nil, fmt.Errorf("tool %q: unknown accepted kind %q", tool.ID, kind)
			}
			accepts = append(accepts, kind)
		}
		if len(accepts) == 0 {
			accepts = []string{AcceptPDF}
		}
		tool.Accepts = accepts
		c.byID[tool.ID] = len(c.tools)
		c.tools = append(c.tools, tool)
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Tool, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Tool{}, false
	}
	return c.tools[i], true
}

// List returns the tools in catalog order.
func (c *Catalog) List() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}
