package server

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenmech/waterbot/busy"
	"github.com/gardenmech/waterbot/coord"
	"github.com/gardenmech/waterbot/esp"
	"github.com/gardenmech/waterbot/gantry"
	"github.com/gardenmech/waterbot/jog"
	"github.com/gardenmech/waterbot/scan"
	"github.com/gardenmech/waterbot/schedule"
	"github.com/gardenmech/waterbot/vision"
)

type nullMover struct{ moves []coord.Point }

func (m *nullMover) Move(dx, dy float64) error {
	m.moves = append(m.moves, coord.Point{X: dx, Y: dy})
	return nil
}

type staticFrames struct{}

func (staticFrames) Read() ([]byte, bool) { return []byte{1}, true }

func never(frame []byte) (bool, error) { return false, nil }

type deps struct {
	d      *Dispatcher
	store  *schedule.Store
	g      *gantry.Safety
	motion *busy.Flag
}

// testDispatcher wires a dispatcher over fakes. The esp.Conn is real
// but its port never answers; tests below never reach the pump.
func testDispatcher(t *testing.T, mutate func(*Config)) deps {
	t.Helper()
	store, err := schedule.NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	require.NoError(t, err)

	pr, _ := io.Pipe()
	link := esp.NewConn(struct {
		io.Reader
		io.Writer
	}{pr, io.Discard})
	t.Cleanup(func() { link.Close() })

	m := &nullMover{}
	g := gantry.NewSafety(m, gantry.Limits{MaxX: 1000, MaxY: 1000})
	var motion busy.Flag
	cfg := Config{
		Link:     link,
		Gantry:   g,
		Jogger:   jog.New(g, &motion, 50, 20*time.Millisecond),
		Motion:   &motion,
		Frames:   staticFrames{},
		Detector: vision.DetectorFunc(never),
		Store:    store,
		Scan: scan.Config{
			Rows: 1, Cols: 1,
			StepX: 75, StepY: 75,
			Dwell:         30 * time.Millisecond,
			FrameInterval: 5 * time.Millisecond,
			WaterMS:       100,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return deps{d: NewDispatcher(cfg), store: store, g: g, motion: &motion}
}

func waitScanDone(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !d.Scanning() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scan never finished")
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	td := testDispatcher(t, nil)
	assert.Equal(t, "Unknown command", td.d.Dispatch("FLY", nil, nil))
	assert.Equal(t, "Unknown command", td.d.Dispatch("  ", nil, nil))
}

func TestDispatcher_JogCaseInsensitive(t *testing.T) {
	td := testDispatcher(t, nil)
	assert.Equal(t, "Moving up...", td.d.Dispatch("up", nil, nil))
}

func TestDispatcher_JogWithoutLink(t *testing.T) {
	td := testDispatcher(t, func(c *Config) { c.Link = nil })
	assert.Equal(t, "Serial not connected", td.d.Dispatch("LEFT", nil, nil))
}

func TestDispatcher_CalibrateAtHome(t *testing.T) {
	td := testDispatcher(t, nil)
	assert.Equal(t, "Already at home", td.d.Dispatch("CALIBRATE", nil, nil))
}

func TestDispatcher_Calibrate(t *testing.T) {
	td := testDispatcher(t, nil)
	_, err := td.g.Move(100, 50)
	require.NoError(t, err)

	assert.Equal(t, "Homing...", td.d.Dispatch("CALIBRATE", nil, nil))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !td.g.AtHome() {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, td.g.AtHome())
}

func TestDispatcher_ScanLifecycle(t *testing.T) {
	td := testDispatcher(t, nil)

	assert.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", nil, nil))
	assert.Equal(t, "Scan already running", td.d.Dispatch("WATER_ALL", nil, nil))
	assert.Equal(t, "Scan in progress", td.d.Dispatch("UP", nil, nil))
	assert.Equal(t, "Scan in progress", td.d.Dispatch("CALIBRATE", nil, nil))
	waitScanDone(t, td.d)

	// conservative interpretation: completing with zero plants still
	// marks today watered
	assert.True(t, td.store.WateredOn(time.Now()))
}

func TestDispatcher_ScanOwnsMotionForItsDuration(t *testing.T) {
	td := testDispatcher(t, func(c *Config) {
		c.Scan.Dwell = 150 * time.Millisecond
	})

	require.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", nil, nil))
	assert.True(t, td.motion.Held(), "a running scan must hold the motion flag, not just observe it")

	waitScanDone(t, td.d)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && td.motion.Held() {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, td.motion.Held(), "motion released once the scan ends")
}

func TestDispatcher_ScanRejectedWhileJogChainActive(t *testing.T) {
	td := testDispatcher(t, nil)

	// the jog chain takes the motion flag synchronously, so a scan
	// racing in behind it cannot slip past a stale Held() read
	require.Equal(t, "Moving up...", td.d.Dispatch("UP", nil, nil))
	assert.Equal(t, "Motion busy", td.d.Dispatch("WATER_ALL", nil, nil))
	assert.False(t, td.d.Scanning())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && td.motion.Held() {
		time.Sleep(5 * time.Millisecond)
	}
	require.False(t, td.motion.Held(), "jog chain never released motion")

	assert.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", nil, nil))
	waitScanDone(t, td.d)
}

func TestDispatcher_ScanRequiresDetector(t *testing.T) {
	td := testDispatcher(t, func(c *Config) { c.Detector = nil })
	assert.Equal(t, "Detection capability unavailable", td.d.Dispatch("WATER_ALL", nil, nil))
}

func TestDispatcher_ScanRequiresLink(t *testing.T) {
	td := testDispatcher(t, func(c *Config) { c.Link = nil })
	assert.Equal(t, "Serial not connected", td.d.Dispatch("WATER_ALL", nil, nil))
}

func TestDispatcher_CancelScan(t *testing.T) {
	td := testDispatcher(t, func(c *Config) {
		c.Scan.Cols = 3
		c.Scan.Dwell = 150 * time.Millisecond
	})

	assert.Equal(t, "No scan running", td.d.Dispatch("CANCEL_SCAN", nil, nil))

	require.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", nil, nil))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "Cancelling scan...", td.d.Dispatch("CANCEL_SCAN", nil, nil))
	waitScanDone(t, td.d)

	assert.False(t, td.store.WateredOn(time.Now()), "cancelled scans must not mark the day watered")
}

func TestDispatcher_ClientGoneCancelsOwnedScan(t *testing.T) {
	td := testDispatcher(t, func(c *Config) {
		c.Scan.Cols = 3
		c.Scan.Dwell = 150 * time.Millisecond
	})

	owner := new(int)
	require.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", owner, nil))
	time.Sleep(50 * time.Millisecond)

	td.d.ClientGone(new(int)) // a different client must not cancel
	assert.True(t, td.d.Scanning())

	td.d.ClientGone(owner)
	waitScanDone(t, td.d)
	assert.False(t, td.store.WateredOn(time.Now()))
}

func TestDispatcher_Schedules(t *testing.T) {
	td := testDispatcher(t, nil)

	resp := td.d.Dispatch("GET_SCHEDULES", nil, nil)
	assert.Contains(t, resp, `"weekly"`)

	resp = td.d.Dispatch(`SET_SCHEDULES {"weekly":{"monday":["08:00"]}}`, nil, nil)
	assert.Equal(t, "Schedules updated", resp)
	assert.Contains(t, td.d.Dispatch("GET_SCHEDULES", nil, nil), "08:00")

	assert.Contains(t, td.d.Dispatch("SET_SCHEDULES not-json", nil, nil), "Invalid schedule payload")
	assert.Contains(t, td.d.Dispatch("SET_SCHEDULES", nil, nil), "Invalid schedule payload")
	assert.Contains(t, td.d.Dispatch(`SET_SCHEDULES {"weekly":{"monday":["99:99"]}}`, nil, nil), "Invalid schedule payload")
}

func TestDispatcher_ScanReady(t *testing.T) {
	td := testDispatcher(t, nil)
	assert.NoError(t, td.d.ScanReady())

	require.Equal(t, "Starting scan...", td.d.Dispatch("WATER_ALL", nil, nil))
	assert.Error(t, td.d.ScanReady())
	waitScanDone(t, td.d)
	assert.NoError(t, td.d.ScanReady())

	noLink := testDispatcher(t, func(c *Config) { c.Link = nil })
	assert.Error(t, noLink.d.ScanReady())
}
