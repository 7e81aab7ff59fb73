package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openuav/follow-gcs/pkg/geo"
	"github.com/openuav/follow-gcs/pkg/location"
)

// target-sim plays the role of the external location provider: an
// interactive walking target served as newline-delimited JSON fixes over
// TCP. Point follow-me at it to fly against a target you can steer.

const updateInterval = 500 * time.Millisecond

// broadcaster fans fixes out to every connected client.
type broadcaster struct {
	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: make(map[net.Conn]struct{})}
}

func (b *broadcaster) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.clients[conn] = struct{}{}
			b.mu.Unlock()
		}
	}()

	return ln, nil
}

func (b *broadcaster) send(fix location.Fix) {
	line, err := location.EncodeFix(fix)
	if err != nil {
		return
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if _, err := conn.Write(line); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
}

func (b *broadcaster) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

type model struct {
	bcast *broadcaster
	addr  string

	pos        geo.Point
	headingDeg float64
	speedMS    float64
	walking    bool
	sent       int
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(updateInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.walking = !m.walking
		case "up", "w":
			m.headingDeg = 0
			m.walking = true
		case "right", "d":
			m.headingDeg = 90
			m.walking = true
		case "down", "s":
			m.headingDeg = 180
			m.walking = true
		case "left", "a":
			m.headingDeg = 270
			m.walking = true
		case "e":
			m.headingDeg = geo.NormalizeAngle(m.headingDeg + 15)
			if m.headingDeg < 0 {
				m.headingDeg += 360
			}
		case "+", "=":
			m.speedMS += 0.25
			if m.speedMS > 10 {
				m.speedMS = 10
			}
		case "-":
			m.speedMS -= 0.25
			if m.speedMS < 0.25 {
				m.speedMS = 0.25
			}
		}
		return m, nil

	case tickMsg:
		if m.walking {
			stepM := m.speedMS * updateInterval.Seconds()
			m.pos = geo.Destination(m.pos, m.headingDeg, stepM)
		}
		m.bcast.send(location.Fix{
			LatitudeDeg:  m.pos.Latitude,
			LongitudeDeg: m.pos.Longitude,
			AltitudeM:    m.pos.Altitude,
			Time:         time.Time(msg).UTC(),
		})
		m.sent++
		return m, tick()
	}

	return m, nil
}

func (m model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	state := "paused"
	stateStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	if m.walking {
		state = "walking"
		stateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	}

	view := titleStyle.Render("Target Simulator") + "\n\n"
	view += labelStyle.Render("Serving:   ") + valueStyle.Render(m.addr) +
		fmt.Sprintf("  (%d client(s))", m.bcast.clientCount()) + "\n"
	view += labelStyle.Render("Position:  ") +
		valueStyle.Render(fmt.Sprintf("%.7f, %.7f", m.pos.Latitude, m.pos.Longitude)) + "\n"
	view += labelStyle.Render("Heading:   ") +
		valueStyle.Render(fmt.Sprintf("%.0f°", m.headingDeg)) + "\n"
	view += labelStyle.Render("Speed:     ") +
		valueStyle.Render(fmt.Sprintf("%.2f m/s", m.speedMS)) + "\n"
	view += labelStyle.Render("State:     ") + stateStyle.Render(state) + "\n"
	view += labelStyle.Render("Fixes sent:") + valueStyle.Render(fmt.Sprintf(" %d", m.sent)) + "\n"

	view += "\n" + helpStyle.Render("arrows/wasd: steer   space: pause/resume   e: rotate 15°") + "\n"
	view += helpStyle.Render("+/-: speed   q: quit") + "\n"

	return view
}

func main() {
	addr := flag.String("addr", "localhost:65191", "Address to serve fixes on")
	lat := flag.Float64("lat", 47.3977419, "Starting latitude")
	lon := flag.Float64("lon", 8.5455938, "Starting longitude")
	speed := flag.Float64("speed", 1.4, "Walking speed in m/s")
	flag.Parse()

	bcast := newBroadcaster()
	ln, err := bcast.listen(*addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}
	defer ln.Close()

	m := model{
		bcast:      bcast,
		addr:       *addr,
		pos:        geo.Point{Latitude: *lat, Longitude: *lon},
		headingDeg: 0,
		speedMS:    *speed,
	}

	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}
