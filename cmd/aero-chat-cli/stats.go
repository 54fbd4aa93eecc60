package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/httpserver"
)

func fetchStats(ctx context.Context, client *http.Client, statsURL string) (httpserver.StatsResponse, error) {
	var stats httpserver.StatsResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return stats, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("fetch stats: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func printStats(w io.Writer, stats httpserver.StatsResponse) {
	heading := color.New(color.FgGreen, color.OpBold)

	fmt.Fprintln(w, heading.Render(fmt.Sprintf("WebRTC rooms: %d", stats.WebRTCRooms)))
	rooms := newTable(w, "#", "Room")
	for i, id := range stats.ActiveRooms {
		rooms.Append([]string{strconv.Itoa(i + 1), id})
	}
	rooms.Render()

	fmt.Fprintln(w, heading.Render(fmt.Sprintf("Chat users: %d", stats.WebSocketUsers)))
	users := newTable(w, "#", "Username")
	for i, name := range stats.WebSocketUsersList {
		users.Append([]string{strconv.Itoa(i + 1), name})
	}
	users.Render()

	if p := stats.Process; p != nil {
		fmt.Fprintln(w, heading.Render("Process"))
		proc := newTable(w, "PID", "Goroutines", "RSS (MiB)", "CPU %")
		proc.Append([]string{
			strconv.Itoa(int(p.PID)),
			strconv.Itoa(p.Goroutines),
			strconv.FormatFloat(float64(p.RSSBytes)/(1<<20), 'f', 1, 64),
			strconv.FormatFloat(p.CPUPercent, 'f', 1, 64),
		})
		proc.Render()
	}
}
