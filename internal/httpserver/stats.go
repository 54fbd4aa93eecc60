package httpserver

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	WebRTCRooms        int           `json:"webrtc_rooms"`
	ActiveRooms        []string      `json:"active_rooms"`
	WebSocketUsers     int           `json:"websocket_users"`
	WebSocketUsersList []string      `json:"websocket_users_list"`
	Process            *ProcessStats `json:"process,omitempty"`
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ActiveRooms:        []string{},
		WebSocketUsersList: []string{},
	}
	if s.deps.Rooms != nil {
		resp.WebRTCRooms = s.deps.Rooms.Count()
		resp.ActiveRooms = append(resp.ActiveRooms, s.deps.Rooms.Rooms()...)
	}
	if s.deps.Sessions != nil {
		resp.WebSocketUsers = s.deps.Sessions.Count()
		resp.WebSocketUsersList = append(resp.WebSocketUsersList, s.deps.Sessions.Usernames()...)
	}

	ps, err := processStats()
	if err != nil {
		s.log.Debug("process stats unavailable", "err", err)
	} else {
		resp.Process = ps
	}

	WriteJSON(w, http.StatusOK, resp)
}

func processStats() (*ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, err
	}
	return &ProcessStats{
		PID:        pid,
		Goroutines: runtime.NumGoroutine(),
		RSSBytes:   mem.RSS,
		CPUPercent: cpu,
	}, nil
}
