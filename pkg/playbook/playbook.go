// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package playbook implements the tenant-isolated knowledge store behind
// the MCP tools: structured playbook entries grouped into fixed sections,
// task reflections, and per-tenant projects.
package playbook

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultProject is the project every tenant starts with.
const DefaultProject = "global"

// DefaultHarmfulThreshold is the curation cutoff: an entry is removed
// when harmful_count exceeds helpful_count by more than this.
const DefaultHarmfulThreshold = 3

// duplicateSimilarityThreshold is the content similarity above which a
// pair of entries is reported as a potential duplicate.
const duplicateSimilarityThreshold = 0.8

// The four playbook sections and their entry-id prefixes.
const (
	SectionStrategies = "STRATEGIES & INSIGHTS"
	SectionFormulas   = "FORMULAS & CALCULATIONS"
	SectionMistakes   = "COMMON MISTAKES TO AVOID"
	SectionKnowledge  = "DOMAIN KNOWLEDGE"
)

// sectionOrder fixes the rendering order of sections.
var sectionOrder = []string{
	SectionStrategies,
	SectionFormulas,
	SectionMistakes,
	SectionKnowledge,
}

var sectionPrefixes = map[string]string{
	SectionStrategies: "str",
	SectionFormulas:   "cal",
	SectionMistakes:   "mis",
	SectionKnowledge:  "dom",
}

var (
	// ErrInvalidSection is returned for a section outside the fixed set.
	ErrInvalidSection = errors.New("invalid playbook section")
	// ErrEntryNotFound is returned when an entry id does not exist for the
	// tenant and project.
	ErrEntryNotFound = errors.New("playbook entry not found")
)

// Sections returns the valid section names in rendering order.
func Sections() []string {
	out := make([]string, len(sectionOrder))
	copy(out, sectionOrder)
	return out
}

// Entry is a single playbook line.
type Entry struct {
	ID      string
	Section string
	Content string
	Helpful int
	Harmful int
}

// Format renders the entry in its canonical line form.
func (e *Entry) Format() string {
	return fmt.Sprintf("[%s] helpful=%d harmful=%d :: %s", e.ID, e.Helpful, e.Harmful, e.Content)
}

// Render produces the canonical markdown playbook: every section in fixed
// order with its entries as formatted lines. Empty sections still get
// their header so the document shape is stable.
func Render(entries []Entry) string {
	bySection := make(map[string][]Entry, len(sectionOrder))
	for _, e := range entries {
		bySection[e.Section] = append(bySection[e.Section], e)
	}

	var b strings.Builder
	for i, section := range sectionOrder {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + section + "\n")
		for _, e := range bySection[section] {
			b.WriteString(e.Format() + "\n")
		}
	}
	return b.String()
}

// RenderSection renders one section's entries.
func RenderSection(section string, entries []Entry) string {
	var b strings.Builder
	b.WriteString("## " + section + "\n")
	for _, e := range entries {
		b.WriteString(e.Format() + "\n")
	}
	return b.String()
}

// defaultEntries is the playbook seeded for a tenant/project that has no
// entries yet.
var defaultEntries = []Entry{
	{ID: "str-00001", Section: SectionStrategies, Content: "Break complex problems into smaller, manageable steps."},
	{ID: "str-00002", Section: SectionStrategies, Content: "Validate assumptions before proceeding with solutions."},
	{ID: "cal-00001", Section: SectionFormulas, Content: "ROI = (Gain - Cost) / Cost * 100"},
	{ID: "mis-00001", Section: SectionMistakes, Content: "Don't assume input data is clean - always validate."},
	{ID: "dom-00001", Section: SectionKnowledge, Content: "Context window limits require prioritizing relevant information."},
}
