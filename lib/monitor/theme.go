// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors of the monitor. All colors use lipgloss
// ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Record state colors.
	StateLoading  lipgloss.Color
	StateReady    lipgloss.Color
	StateFailed   lipgloss.Color
	StateReleased lipgloss.Color

	// Idle bundles that will be evicted on the next sweep.
	Expiring lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
}

// StateColor returns the color for a record state name. The loading
// states share one color; unknown values return FaintText.
func (theme Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case "reading", "decoding", "awaiting-dependencies":
		return theme.StateLoading
	case "ready":
		return theme.StateReady
	case "failed":
		return theme.StateFailed
	case "released":
		return theme.StateReleased
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateLoading:  lipgloss.Color("220"), // yellow/amber
	StateReady:    lipgloss.Color("114"), // green
	StateFailed:   lipgloss.Color("196"), // red
	StateReleased: lipgloss.Color("240"), // dim gray

	Expiring: lipgloss.Color("208"), // orange

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),
}
