// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
)

// Cache is the part of *bundlecache.Cache the monitor drives.
type Cache interface {
	UpdateFrame()
	Collect() int
	Stats() bundlecache.Stats
	Bundles() []bundlecache.BundleInfo
	Now() time.Time
	IdleThreshold() time.Duration
}

// Options configures a Model.
type Options struct {
	// Interval between frames. Default: 16ms.
	Interval time.Duration

	// OnFrame runs on every tick before UpdateFrame, so a driver can
	// issue loads from the cache's goroutine.
	OnFrame func()

	// Keys and Theme default to DefaultKeyMap and DefaultTheme.
	Keys  *KeyMap
	Theme *Theme
}

// tickMessage drives one frame.
type tickMessage time.Time

// Column widths. The bundle name takes whatever is left.
const (
	stateWidth      = 22
	referencesWidth = 6
	depsWidth       = 6
	idleWidth       = 10
	minimumName     = 8
)

// Model is the bubbletea model of the monitor.
type Model struct {
	cache    Cache
	interval time.Duration
	onFrame  func()
	keys     KeyMap
	theme    Theme
	help     help.Model

	bundles []bundlecache.BundleInfo
	stats   bundlecache.Stats
	now     time.Time

	cursor    int
	paused    bool
	collected int
	width     int
	height    int
}

// New creates a monitor over cache.
func New(cache Cache, options Options) Model {
	model := Model{
		cache:    cache,
		interval: options.Interval,
		onFrame:  options.OnFrame,
		keys:     DefaultKeyMap,
		theme:    DefaultTheme,
		help:     help.New(),
		width:    80,
		height:   24,
	}
	if model.interval <= 0 {
		model.interval = 16 * time.Millisecond
	}
	if options.Keys != nil {
		model.keys = *options.Keys
	}
	if options.Theme != nil {
		model.theme = *options.Theme
	}
	model.help.Styles.ShortKey = lipgloss.NewStyle().Foreground(model.theme.HelpText).Bold(true)
	model.help.Styles.ShortDesc = lipgloss.NewStyle().Foreground(model.theme.HelpText)
	model.refresh()
	return model
}

// Init starts the frame ticker.
func (model Model) Init() tea.Cmd {
	return model.tick()
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.interval, func(now time.Time) tea.Msg {
		return tickMessage(now)
	})
}

// Update handles ticks, keys, and resizes.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMessage:
		if !model.paused {
			if model.onFrame != nil {
				model.onFrame()
			}
			model.cache.UpdateFrame()
		}
		model.refresh()
		return model, model.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.Up):
			model.moveCursor(-1)
		case key.Matches(message, model.keys.Down):
			model.moveCursor(1)
		case key.Matches(message, model.keys.Home):
			model.cursor = 0
		case key.Matches(message, model.keys.End):
			model.moveCursor(len(model.bundles))
		case key.Matches(message, model.keys.Collect):
			model.collected += model.cache.Collect()
			model.refresh()
		case key.Matches(message, model.keys.Pause):
			model.paused = !model.paused
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.help.Width = message.Width
		return model, nil
	}
	return model, nil
}

func (model *Model) refresh() {
	model.bundles = model.cache.Bundles()
	model.stats = model.cache.Stats()
	model.now = model.cache.Now()
	model.moveCursor(0)
}

func (model *Model) moveCursor(delta int) {
	model.cursor += delta
	if model.cursor >= len(model.bundles) {
		model.cursor = len(model.bundles) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
}

// Paused reports whether frame updates are suspended.
func (model Model) Paused() bool { return model.paused }

// Collected returns how many bundles the collect key has evicted.
func (model Model) Collected() int { return model.collected }

// View renders the header, the bundle table, and the help line.
func (model Model) View() string {
	var builder strings.Builder

	header := lipgloss.NewStyle().Foreground(model.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	status := fmt.Sprintf("frame %d  bundles %d  ready %d  loading %d  failed %d  handles %d  pending %d  jobs %d/%d",
		model.stats.Frame, model.stats.Records, model.stats.Ready, model.stats.Loading, model.stats.Failed,
		model.stats.Handles, model.stats.PendingLoads, model.stats.RunningJobs, model.stats.QueuedJobs)
	if model.paused {
		status += "  [paused]"
	}
	builder.WriteString(header.Render(ansi.Truncate(status, model.width, "…")))
	builder.WriteByte('\n')

	nameWidth := max(model.width-stateWidth-referencesWidth-depsWidth-idleWidth-4, minimumName)
	columns := fmt.Sprintf("%-*s %-*s %*s %*s %*s",
		nameWidth, "BUNDLE", stateWidth, "STATE", referencesWidth, "REFS", depsWidth, "DEPS", idleWidth, "IDLE")
	builder.WriteString(faint.Render(ansi.Truncate(columns, model.width, "")))
	builder.WriteByte('\n')
	builder.WriteString(lipgloss.NewStyle().Foreground(model.theme.BorderColor).Render(strings.Repeat("─", model.width)))
	builder.WriteByte('\n')

	if len(model.bundles) == 0 {
		builder.WriteString(faint.Render("no bundles registered"))
		builder.WriteByte('\n')
	}

	// Header, column titles, rule, and help take four lines.
	visible := max(model.height-4, 1)
	first := 0
	if model.cursor >= visible {
		first = model.cursor - visible + 1
	}
	for index := first; index < len(model.bundles) && index < first+visible; index++ {
		builder.WriteString(model.renderRow(model.bundles[index], nameWidth, index == model.cursor))
		builder.WriteByte('\n')
	}

	builder.WriteString(model.help.View(model.keys))
	return builder.String()
}

func (model Model) renderRow(info bundlecache.BundleInfo, nameWidth int, selected bool) string {
	name := ansi.Truncate(info.Name, nameWidth, "…")
	idle := "-"
	idleColor := model.theme.NormalText
	if !info.IdleSince.IsZero() {
		elapsed := model.now.Sub(info.IdleSince)
		idle = elapsed.Truncate(100 * time.Millisecond).String()
		if info.State == "ready" && elapsed > model.cache.IdleThreshold() {
			idleColor = model.theme.Expiring
		}
	}

	base := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	if selected {
		base = base.Background(model.theme.SelectedBackground).Foreground(model.theme.SelectedForeground)
	}
	cell := func(color lipgloss.Color, text string) string {
		style := base
		if !selected {
			style = style.Foreground(color)
		}
		return style.Render(text)
	}

	return strings.Join([]string{
		cell(model.theme.NormalText, fmt.Sprintf("%-*s", nameWidth, name)),
		cell(model.theme.StateColor(info.State), fmt.Sprintf("%-*s", stateWidth, info.State)),
		cell(model.theme.NormalText, fmt.Sprintf("%*d", referencesWidth, info.ReferenceCount)),
		cell(model.theme.FaintText, fmt.Sprintf("%*d", depsWidth, len(info.Dependencies))),
		cell(idleColor, fmt.Sprintf("%*s", idleWidth, idle)),
	}, base.Render(" "))
}
