package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tarm/serial"
)

type sample struct {
	DeviceID string  `json:"device_id"`
	Glucose  float64 `json:"glucose"`
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type simulator struct {
	baseline float64
	trend    float64
}

func main() {
	var targetURL string
	var deviceID string
	var serialPort string
	var baud int
	var interval time.Duration
	var jitter time.Duration
	var count int
	var seed int64

	flag.StringVar(&targetURL, "url", "ws://localhost:5000/ws", "websocket ingestion endpoint")
	flag.StringVar(&deviceID, "device", "esp32-sim", "device identifier sent with each sample")
	flag.StringVar(&serialPort, "serial", "", "read samples from this serial port instead of simulating")
	flag.IntVar(&baud, "baud", 115200, "serial baud rate")
	flag.DurationVar(&interval, "interval", 2*time.Second, "base delay between emitted readings")
	flag.DurationVar(&jitter, "jitter", 500*time.Millisecond, "max random delay added to each interval")
	flag.IntVar(&count, "count", 0, "number of readings to emit (0 = infinite)")
	flag.Int64Var(&seed, "seed", 0, "random seed (0 = use current time)")
	flag.Parse()

	if interval <= 0 {
		log.Fatal("interval must be > 0")
	}
	if jitter < 0 {
		log.Fatal("jitter must be >= 0")
	}
	if count < 0 {
		log.Fatal("count must be >= 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, targetURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", targetURL, err)
	}
	defer conn.Close()

	// Drain server pushes so control frames (pings) are answered.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stop()
				return
			}
		}
	}()

	if serialPort != "" {
		port, err := serial.OpenPort(&serial.Config{Name: serialPort, Baud: baud})
		if err != nil {
			log.Fatalf("open serial: %v", err)
		}
		defer port.Close()

		log.Printf("forwarding serial port=%s target=%s", serialPort, targetURL)
		if err := forwardSerial(ctx, port, conn, deviceID); err != nil {
			log.Printf("serial forwarding stopped: %v", err)
		}
		return
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Printf("simulator started seed=%d target=%s interval=%s", seed, targetURL, interval)

	model := simulator{baseline: 110}
	emitted := 0
	for {
		if count > 0 && emitted >= count {
			log.Printf("simulation complete (%d readings sent)", emitted)
			closeConnection(conn)
			return
		}

		value := model.next(rng)
		if err := sendSample(conn, sample{DeviceID: deviceID, Glucose: value}); err != nil {
			log.Printf("send failed: %v", err)
			return
		}
		emitted++
		log.Printf("sent #%d glucose=%.1f", emitted, value)

		delay := interval
		if jitter > 0 {
			delay += time.Duration(rng.Int63n(int64(jitter) + 1))
		}

		select {
		case <-ctx.Done():
			log.Printf("simulation stopped")
			closeConnection(conn)
			return
		case <-time.After(delay):
		}
	}
}

// next walks the glucose level around a drifting baseline with occasional
// post-meal rises.
func (sim *simulator) next(rng *rand.Rand) float64 {
	sim.trend = clamp(sim.trend*0.9+rng.NormFloat64()*0.8, -4, 4)

	if rng.Float64() < 0.03 {
		sim.trend += rng.Float64()*6 + 2
	}

	sim.baseline = clamp(sim.baseline+sim.trend, 55, 320)
	return round1(sim.baseline + rng.NormFloat64()*1.5)
}

// forwardSerial sends one sample per line. Lines are either "<value>" or
// "<device>,<value>"; anything else is skipped.
func forwardSerial(ctx context.Context, port io.Reader, conn *websocket.Conn, deviceID string) error {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			closeConnection(conn)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		device, rawValue := deviceID, line
		if left, right, found := strings.Cut(line, ","); found {
			device, rawValue = strings.TrimSpace(left), strings.TrimSpace(right)
		}

		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			log.Printf("skipping serial line %q: %v", line, err)
			continue
		}

		if err := sendSample(conn, sample{DeviceID: device, Glucose: value}); err != nil {
			return fmt.Errorf("send sample: %w", err)
		}
		log.Printf("forwarded %s glucose=%.1f", device, value)
	}
	return scanner.Err()
}

func sendSample(conn *websocket.Conn, reading sample) error {
	payload, err := json.Marshal(envelope{Event: "esp32_data", Data: reading})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func closeConnection(conn *websocket.Conn) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

func clamp(value float64, min float64, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
