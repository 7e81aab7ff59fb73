package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// follow-tui is a terminal dashboard for a running follow-me mission. It
// talks to the mission's status API over HTTP, so it can run on another
// machine than the ground station process.

// status mirrors the /api/v1/status response.
type status struct {
	FlightMode     string    `json:"flight_mode"`
	Armed          bool      `json:"armed"`
	InAir          bool      `json:"in_air"`
	LatitudeDeg    float64   `json:"latitude_deg"`
	LongitudeDeg   float64   `json:"longitude_deg"`
	RelativeAltM   float64   `json:"relative_alt_m"`
	TargetLat      float64   `json:"target_latitude_deg"`
	TargetLon      float64   `json:"target_longitude_deg"`
	FixesForwarded uint64    `json:"fixes_forwarded"`
	FixesSkipped   uint64    `json:"fixes_skipped"`
	FixesThrottled uint64    `json:"fixes_throttled"`
	Time           time.Time `json:"time"`
}

// apiClient is a minimal authenticated client for the status API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *apiClient) login(username, password string) error {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})

	resp, err := c.http.Post(c.baseURL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	c.token = result.Token
	return nil
}

func (c *apiClient) status() (*status, error) {
	req, err := http.NewRequest("GET", c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	var st status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// App is the dashboard application.
type App struct {
	tviewApp *tview.Application
	vehicle  *tview.TextView
	relay    *tview.TextView
	controls *tview.TextView
	client   *apiClient
	stopChan chan struct{}
}

func newApp(client *apiClient) *App {
	a := &App{
		tviewApp: tview.NewApplication(),
		client:   client,
		stopChan: make(chan struct{}),
	}
	a.setupUI()
	return a
}

// setupUI initializes the panels and layout.
func (a *App) setupUI() {
	a.vehicle = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.vehicle.SetBorder(true).SetTitle(" Vehicle ")

	a.relay = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.relay.SetBorder(true).SetTitle(" Target Relay ")

	a.controls = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.controls.SetBorder(true).SetTitle(" Controls ")
	a.controls.SetText("[yellow]CONTROL[-]\n  [white]q[-]  Quit")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.vehicle, 0, 4, false).
		AddItem(a.relay, 0, 4, false).
		AddItem(a.controls, 0, 2, false)

	a.tviewApp.SetRoot(layout, true)
	a.tviewApp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyCtrlC {
			close(a.stopChan)
			a.tviewApp.Stop()
			return nil
		}
		return event
	})
}

// poll refreshes the panels once per second.
func (a *App) poll() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			st, err := a.client.status()
			a.tviewApp.QueueUpdateDraw(func() {
				if err != nil {
					a.vehicle.SetText(fmt.Sprintf("[red]Status unavailable:[-]\n%v", err))
					return
				}
				a.render(st)
			})
		}
	}
}

func (a *App) render(st *status) {
	armed := "[red]DISARMED[-]"
	if st.Armed {
		armed = "[green]ARMED[-]"
	}
	air := "on ground"
	if st.InAir {
		air = "in air"
	}

	a.vehicle.SetText(fmt.Sprintf(
		"[yellow]MODE:[-] [white]%s[-]   %s  [gray](%s)[-]\n"+
			"[gray]Pos:[-]  [white]%.7f, %.7f[-]\n"+
			"[gray]Alt:[-]  [white]%.1f m[-]\n",
		st.FlightMode, armed, air,
		st.LatitudeDeg, st.LongitudeDeg,
		st.RelativeAltM,
	))

	a.relay.SetText(fmt.Sprintf(
		"[gray]Target:[-]     [white]%.7f, %.7f[-]\n"+
			"[gray]Forwarded:[-]  [white]%d[-]\n"+
			"[gray]Skipped:[-]    [white]%d[-]\n"+
			"[gray]Throttled:[-]  [white]%d[-]\n",
		st.TargetLat, st.TargetLon,
		st.FixesForwarded, st.FixesSkipped, st.FixesThrottled,
	))
}

func (a *App) run() error {
	go a.poll()
	return a.tviewApp.Run()
}

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8090", "Base URL of the mission status API")
	username := flag.String("username", "viewer", "API username")
	password := flag.String("password", "", "API password")
	flag.Parse()

	client := newAPIClient(*apiURL)
	if err := client.login(*username, *password); err != nil {
		log.Fatalf("Failed to log in to %s: %v", *apiURL, err)
	}

	app := newApp(client)
	if err := app.run(); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}
