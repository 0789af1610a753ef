package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"chromefleet/internal/proxy"
)

// ProxyRow is a catalog entry with its cached validation outcome, if any.
type ProxyRow struct {
	Endpoint proxy.Endpoint
	Outcome  *proxy.Outcome
}

type proxiesModel struct {
	table table.Model
	rows  []ProxyRow
}

func proxyColumns(w int) []table.Column {
	addr := 30
	if w > 100 {
		addr = w / 3
	}
	return []table.Column{
		{Title: "Scheme", Width: 8},
		{Title: "Address", Width: addr},
		{Title: "Auth", Width: 5},
		{Title: "Country", Width: 8},
		{Title: "State", Width: 8},
		{Title: "Latency", Width: 10},
		{Title: "Exit IP", Width: 16},
	}
}

func newProxiesModel() proxiesModel {
	return proxiesModel{table: newTable(proxyColumns(0))}
}

func (xm *proxiesModel) setSize(w, h int) {
	xm.table.SetColumns(proxyColumns(w))
	if h < 1 {
		h = 1
	}
	xm.table.SetHeight(h)
}

func (xm *proxiesModel) setRows(rows []ProxyRow) {
	xm.rows = rows
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		auth := ""
		if r.Endpoint.HasAuth() {
			auth = "yes"
		}
		state, latency, ip := dimStyle.Render("?"), "-", "-"
		country := r.Endpoint.Country
		if o := r.Outcome; o != nil {
			if o.OK {
				state = successStyle.Render("live")
				latency = latencyStyle(o.LatencyMS).Render(fmt.Sprintf("%dms", o.LatencyMS))
				ip = o.IP
				if country == "" {
					country = o.CountryCode
				}
			} else {
				state = errorStyle.Render("dead")
			}
		}
		out[i] = table.Row{string(r.Endpoint.Scheme), r.Endpoint.Addr(), auth, country, state, latency, ip}
	}
	xm.table.SetRows(out)
}

func (xm *proxiesModel) live() int {
	n := 0
	for _, r := range xm.rows {
		if r.Outcome != nil && r.Outcome.OK {
			n++
		}
	}
	return n
}

func (xm *proxiesModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	xm.table, cmd = xm.table.Update(msg)
	return cmd
}

func (xm *proxiesModel) View() string {
	if len(xm.rows) == 0 {
		return dimStyle.Render("Catalog is empty. Import with: chromefleet proxy import <file>")
	}
	return titleStyle.Render(fmt.Sprintf("%d endpoints, %d live in cache", len(xm.rows), xm.live())) + "\n" + xm.table.View()
}
