package types

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// BlockTypeText is the only block type produced by the chunkers
const BlockTypeText = "text"

// Resource represents one ingested document
type Resource struct {
	ID            string // Hex MD5 of Path
	Path          string
	ContentHash   string // Hex MD5 of the indexed content
	LastIndexedAt time.Time
	ContentDate   string // Free-form date used for recency scoring; may be empty
	Tags          []string
}

// Block represents a contiguous chunk of a resource's text
type Block struct {
	ID          string
	ResourceID  string
	BlockType   string
	Content     string
	StartLine   int
	EndLine     int
	TokenCount  int
	ContentDate string // Inherited from the resource unless overridden
}

// ResourceID derives the stable identity of a resource from its path
func ResourceID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

// ContentHash computes the change-detection hash of a document's content
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// BlockID derives a block's identity from its resource and sequence index,
// so identical content re-chunks to identical ids.
func BlockID(resourceID string, seq int) string {
	return fmt.Sprintf("%s_%d", resourceID, seq)
}

// ComputeTokenCount estimates the number of tokens in the block
// Uses a simple heuristic: characters / 4
func (b *Block) ComputeTokenCount() int {
	b.TokenCount = len(b.Content) / 4
	return b.TokenCount
}

// Validate checks the block is storable
func (b *Block) Validate() error {
	if b.Content == "" {
		return ErrEmptyContent
	}
	if b.ResourceID == "" {
		return ErrMissingResource
	}
	if b.StartLine <= 0 || b.EndLine <= 0 {
		return ErrInvalidLines
	}
	if b.StartLine > b.EndLine {
		return ErrLineOrder
	}
	return nil
}

// HasTag reports whether the resource carries tag
func (r *Resource) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags trims tags, drops empty ones and returns the rest sorted and
// deduplicated. A nil slice stays nil so callers can tell "no change" from
// "clear all tags".
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
