package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/collect"
	"github.com/stashhunt/stashd/pkg/position"
)

// Command line flags
var (
	// Commands
	showHealth  = flag.Bool("health", false, "Show daemon health")
	showLedger  = flag.Bool("ledger", false, "Show the user's collection ledger")
	showMarkers = flag.Bool("markers", false, "List spawned entity markers")
	showEvents  = flag.Bool("events", false, "List recent game events")
	doCollect   = flag.String("collect", "", "Attempt to collect the entity with this id")
	doReset     = flag.Bool("reset", false, "Discard the current batch and respawn")
	sendFix     = flag.Bool("position", false, "Send a position fix (requires -lat and -lng)")
	simulate    = flag.Bool("simulate", false, "Walk a simulated player from -lat/-lng, streaming fixes")

	// Simulation options
	simSteps    = flag.Int("steps", 10, "Fixes to send in -simulate mode")
	simSpeed    = flag.Float64("speed", 1.4, "Simulated speed in m/s")
	simBearing  = flag.Float64("bearing", 0, "Simulated walk bearing in degrees (0 = north)")
	simInterval = flag.Duration("interval", time.Second, "Delay between simulated fixes")

	// Common options
	serverURL    = flag.String("server", "http://127.0.0.1:8080", "stashd API address")
	apiKey       = flag.String("api-key", "", "API key, if the daemon requires one")
	userID       = flag.String("user", "", "Player user id")
	lat          = flag.Float64("lat", 0, "Latitude for -position or -collect")
	lng          = flag.Float64("lng", 0, "Longitude for -position or -collect")
	hasPos       = false
	outputFormat = flag.String("format", "standard", "Output format: standard, json")
	timeout      = flag.Duration("timeout", 10*time.Second, "Request timeout")
	version      = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "stashctl"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lng" {
			hasPos = true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &client{
		base:   strings.TrimRight(*serverURL, "/"),
		apiKey: *apiKey,
		http:   &http.Client{Timeout: *timeout},
	}

	var err error
	switch {
	case *showHealth:
		err = c.health(ctx)
	case *showLedger:
		err = c.ledger(ctx)
	case *showMarkers:
		err = c.markers(ctx)
	case *showEvents:
		err = c.events(ctx)
	case *doCollect != "":
		err = c.collect(ctx, *doCollect)
	case *sendFix:
		err = c.position(ctx)
	case *simulate:
		err = c.simulate()
	case *doReset:
		err = c.reset(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) requireUser() error {
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	return nil
}

func (c *client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *client) post(ctx context.Context, path string, query url.Values, body interface{}) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(data)
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *client) health(ctx context.Context) error {
	data, err := c.get(ctx, "/api/health", nil)
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var h struct {
		Status        string `json:"status"`
		UptimeSeconds int    `json:"uptime_seconds"`
		Sessions      int    `json:"sessions"`
		PendingEvents int    `json:"pending_events"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	fmt.Printf("Status:   %s\n", h.Status)
	fmt.Printf("Uptime:   %s\n", (time.Duration(h.UptimeSeconds) * time.Second).String())
	fmt.Printf("Sessions: %d\n", h.Sessions)
	fmt.Printf("Pending:  %d\n", h.PendingEvents)
	return nil
}

func (c *client) ledger(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	data, err := c.get(ctx, "/api/ledger", url.Values{"user": {*userID}})
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var snap pkg.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	fmt.Printf("User:            %s\n", snap.UserID)
	fmt.Printf("Total points:    %d\n", snap.TotalPoints)
	fmt.Printf("Coins collected: %d\n", len(snap.CollectedEntityIDs))
	fmt.Printf("Rare coins:      %d\n", snap.RareCoinCount)
	fmt.Printf("Semi-rare coins: %d\n", snap.SemiRareCoinCount)
	fmt.Printf("Streak:          %d day(s)\n", snap.CurrentStreakDays)
	return nil
}

func (c *client) markers(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	data, err := c.get(ctx, "/api/markers", url.Values{"user": {*userID}})
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var body struct {
		Markers []pkg.Marker `json:"markers"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	if len(body.Markers) == 0 {
		fmt.Println("No markers. Send a position fix first.")
		return nil
	}
	for _, m := range body.Markers {
		fmt.Printf("%-44s %-20s %4d pts  (%.6f, %.6f)\n",
			m.ID, m.Kind, m.Value, m.Position.Lat, m.Position.Lng)
	}
	return nil
}

func (c *client) events(ctx context.Context) error {
	query := url.Values{}
	if *userID != "" {
		query.Set("user", *userID)
	}
	data, err := c.get(ctx, "/api/events", query)
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var body struct {
		Events []pkg.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	if len(body.Events) == 0 {
		fmt.Println("No events.")
		return nil
	}
	for _, ev := range body.Events {
		line := fmt.Sprintf("%s  %-22s %s", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.UserID)
		if ev.EntityID != "" {
			line += "  " + ev.EntityID
		}
		if ev.Value > 0 {
			line += fmt.Sprintf("  +%d pts", ev.Value)
		}
		fmt.Println(line)
	}
	return nil
}

func (c *client) collect(ctx context.Context, entityID string) error {
	if err := c.requireUser(); err != nil {
		return err
	}

	body := map[string]interface{}{
		"user_id":   *userID,
		"entity_id": entityID,
	}
	if hasPos {
		body["position"] = pkg.Coordinate{Lat: *lat, Lng: *lng}
	}

	data, err := c.post(ctx, "/api/collect", nil, body)
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var res collect.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	switch res.Code {
	case collect.ResultCollected:
		fmt.Printf("Collected! +%d points (total %d", res.PointsAwarded, res.TotalPoints)
		if res.StreakDays > 0 {
			fmt.Printf(", streak %d day(s)", res.StreakDays)
		}
		fmt.Println(")")
		if res.UnlockedEntityID != "" {
			fmt.Printf("Unlocked: %s\n", res.UnlockedEntityID)
		}
		if res.PersistenceDegraded {
			fmt.Println("Note: saved locally, will sync when the server is reachable")
		}
	case collect.ResultTooFar:
		fmt.Printf("Too far: get %.0f m (%.0f ft) closer\n", res.RemainingMeters, res.RemainingFeet)
	default:
		fmt.Printf("Not collected: %s\n", res.Code)
	}
	return nil
}

func (c *client) position(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if !hasPos {
		return fmt.Errorf("-lat and -lng are required")
	}

	data, err := c.post(ctx, "/api/position", nil, map[string]interface{}{
		"user_id":  *userID,
		"position": pkg.Coordinate{Lat: *lat, Lng: *lng},
	})
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var body struct {
		DisplayPosition pkg.Coordinate `json:"display_position"`
		Motion          string         `json:"motion"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	fmt.Printf("Position accepted: (%.6f, %.6f) motion=%s\n",
		body.DisplayPosition.Lat, body.DisplayPosition.Lng, body.Motion)
	return nil
}

// simulate walks a virtual player and sends each fix to the daemon. It runs
// on its own context so the walk is not bounded by the request timeout.
func (c *client) simulate() error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if !hasPos {
		return fmt.Errorf("-lat and -lng are required")
	}

	sim := &position.Simulator{
		Start:      pkg.Coordinate{Lat: *lat, Lng: *lng},
		BearingDeg: *simBearing,
		SpeedMPS:   *simSpeed,
		Interval:   *simInterval,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := 0
	var sendErr error
	err := sim.Run(ctx, func(f pkg.Fix) {
		data, perr := c.post(ctx, "/api/position", nil, map[string]interface{}{
			"user_id":         *userID,
			"position":        f.Position,
			"accuracy_meters": f.AccuracyMeters,
		})
		if perr != nil {
			sendErr = perr
			cancel()
			return
		}
		sent++

		var body struct {
			DisplayPosition pkg.Coordinate `json:"display_position"`
			Motion          string         `json:"motion"`
		}
		if json.Unmarshal(data, &body) == nil {
			fmt.Printf("fix %2d: (%.6f, %.6f) motion=%s\n",
				sent, body.DisplayPosition.Lat, body.DisplayPosition.Lng, body.Motion)
		}
		if sent >= *simSteps {
			cancel()
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Sent %d fixes\n", sent)
	return nil
}

func (c *client) reset(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	data, err := c.post(ctx, "/api/reset", url.Values{"user": {*userID}}, nil)
	if err != nil {
		return err
	}
	if *outputFormat == "json" {
		fmt.Println(string(data))
		return nil
	}

	var body struct {
		Status  string `json:"status"`
		Markers int    `json:"markers"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	fmt.Printf("Batch %s: %d markers\n", body.Status, body.Markers)
	return nil
}
