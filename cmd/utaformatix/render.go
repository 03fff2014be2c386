package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
)

var (
	colorBlue     = lipgloss.Color("39")
	colorGray     = lipgloss.Color("250")
	colorDarkGray = lipgloss.Color("240")
	colorWhite    = lipgloss.Color("15")
)

var (
	rootStyle   = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(colorWhite).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(colorGray).Italic(true)
	branchStyle = lipgloss.NewStyle().Foreground(colorDarkGray)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func formatsTable(caps []utaformatix.Capabilities) string {
	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "-"
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(branchStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Headers("FORMAT", "EXT", "READ", "WRITE", "DESCRIPTION")
	for _, c := range caps {
		t.Row(string(c.Format), "."+c.Format.Extension(), yes(c.CanParse), yes(c.CanGenerate), c.Format.Description())
	}
	return t.String()
}

func projectTree(name string, data *utaformatix.UfData) string {
	p := data.Project
	title := p.Name
	if title == "" {
		title = name
	}
	root := tree.New().
		Root(rootStyle.Render(title)).
		EnumeratorStyle(branchStyle).
		Enumerator(tree.RoundedEnumerator)

	tempos := branch("Tempos", len(p.Tempos))
	for _, t := range p.Tempos {
		tempos.Child(fmt.Sprintf("%g BPM at tick %d", t.Bpm, t.TickPosition))
	}
	signatures := branch("Time signatures", len(p.TimeSignatures))
	for _, ts := range p.TimeSignatures {
		signatures.Child(fmt.Sprintf("%d/%d at measure %d", ts.Numerator, ts.Denominator, ts.MeasurePosition))
	}
	tracks := branch("Tracks", len(p.Tracks))
	for _, tr := range p.Tracks {
		label := fmt.Sprintf("%s: %d notes", tr.Name, len(tr.Notes))
		if tr.Pitch != nil {
			label += ", pitch"
		}
		tracks.Child(label)
	}
	return root.Child(tempos, signatures, tracks).String()
}

func branch(title string, count int) *tree.Tree {
	return tree.New().Root(lipgloss.JoinHorizontal(
		lipgloss.Top,
		headerStyle.Render(title),
		" ",
		infoStyle.Render(fmt.Sprintf("(%d)", count)),
	))
}
