package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tarm/serial"

	"github.com/gardenmech/waterbot/busy"
	"github.com/gardenmech/waterbot/camera"
	"github.com/gardenmech/waterbot/esp"
	"github.com/gardenmech/waterbot/gantry"
	"github.com/gardenmech/waterbot/jog"
	"github.com/gardenmech/waterbot/scan"
	"github.com/gardenmech/waterbot/schedule"
	"github.com/gardenmech/waterbot/server"
	"github.com/gardenmech/waterbot/vision"
)

func main() {
	log.SetFlags(log.Lshortfile)

	port := flag.String("port", "/dev/ttyUSB0", "Serial port of the gantry firmware.")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	addr := flag.String("addr", ":8000", "Address to bind the waterbot server to.")
	dir := flag.String("dir", "./data", "Data directory to use.")
	device := flag.Int("camera", 0, "Camera device index.")
	fps := flag.Int("fps", 20, "Target video stream FPS.")

	rows := flag.Int("rows", 5, "Scan grid rows.")
	cols := flag.Int("cols", 5, "Scan grid columns.")
	stepX := flag.Float64("step-x", 75, "X distance between scan cells (mm).")
	stepY := flag.Float64("step-y", 75, "Y distance between scan cells (mm).")
	dwell := flag.Duration("dwell", time.Second, "Time spent watching each cell.")
	waterMS := flag.Int("water-ms", 5000, "Pump run time per plant (ms).")

	maxX := flag.Float64("max-x", 375, "X travel limit (mm).")
	maxY := flag.Float64("max-y", 375, "Y travel limit (mm).")
	jogStep := flag.Float64("jog-step", 50, "Manual jog step size (mm).")
	flag.Parse()

	link := openLink(*port, *baud)
	frames := openCamera(*device)

	if err := os.MkdirAll(*dir, 0755); err != nil {
		log.Fatal(err)
	}
	store, err := schedule.NewStore(filepath.Join(*dir, "schedules.json"))
	if err != nil {
		log.Fatal(err)
	}

	g := gantry.NewSafety(link, gantry.Limits{MaxX: *maxX, MaxY: *maxY})
	var motion busy.Flag
	jogger := jog.New(g, &motion, *jogStep, 150*time.Millisecond)

	api := newAPI()
	d := server.NewDispatcher(server.Config{
		Link:     link,
		Gantry:   g,
		Jogger:   jogger,
		Motion:   &motion,
		Frames:   frames,
		Detector: vision.NewGreen(),
		Store:    store,
		Scan: scan.Config{
			Rows: *rows, Cols: *cols,
			StepX: *stepX, StepY: *stepY,
			Dwell:   *dwell,
			WaterMS: *waterMS,
		},
		Broadcast: api.broadcast,
	})
	api.dispatcher = d
	api.frames = frames
	api.frameInterval = time.Second / time.Duration(*fps)

	sched := &schedule.Scheduler{
		Store:   store,
		Ready:   d.ScanReady,
		Trigger: d.RunScheduledScan,
	}
	go sched.Run(context.Background())

	log.Printf("waterbot listening on %s", *addr)
	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}

// openLink connects to the firmware. ESP boards reset on connect, so
// give it time to boot and throw the banner away. A failed open is
// not fatal; hardware commands will report "Serial not connected".
func openLink(port string, baud int) *esp.Conn {
	s, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		log.Println("ERROR: serial connection failed:", err)
		return nil
	}
	link := esp.NewConn(s)
	time.Sleep(2 * time.Second)
	for _, ln := range link.Drain() {
		log.Println("[ESP]", ln)
	}
	log.Printf("serial connected on %s @ %d", port, baud)
	return link
}

func openCamera(device int) *camera.Source {
	cam, err := camera.OpenWebcam(device, 640, 480)
	if err != nil {
		log.Println("ERROR: camera unavailable:", err)
		return nil
	}
	return camera.NewSource(cam)
}
