package location

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// NMEASource reads the operator's own position from a GPS receiver on a
// serial port. GGA sentences carry position and altitude; RMC sentences are
// accepted as a position-only fallback for receivers that interleave them.
type NMEASource struct {
	portName string
	baud     int
	retry    RetryConfig
	logger   *logrus.Logger
}

// NewNMEASource creates a source reading NMEA 0183 from the given device.
func NewNMEASource(portName string, baud int, logger *logrus.Logger) *NMEASource {
	if baud == 0 {
		baud = 9600
	}
	return &NMEASource{
		portName: portName,
		baud:     baud,
		retry:    DefaultRetryConfig(),
		logger:   logger,
	}
}

// Run implements Source.
func (s *NMEASource) Run(ctx context.Context, fn Handler) error {
	for {
		var port *serial.Port
		err := RetryWithBackoff(ctx, s.retry, func() error {
			p, err := serial.OpenPort(&serial.Config{
				Name:        s.portName,
				Baud:        s.baud,
				ReadTimeout: time.Second,
			})
			if err != nil {
				s.logger.Warnf("GPS port %s open failed: %v", s.portName, err)
				return err
			}
			port = p
			return nil
		})
		if err != nil {
			return fmt.Errorf("GPS receiver unreachable: %w", err)
		}

		s.logger.Infof("reading NMEA from %s at %d baud", s.portName, s.baud)

		readErr := s.readLoop(ctx, port, fn)
		port.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnf("GPS port read failed: %v", readErr)
	}
}

func (s *NMEASource) readLoop(ctx context.Context, port *serial.Port, fn Handler) error {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fix, ok, err := ParseSentence(line)
		if err != nil {
			s.logger.Debugf("skipping NMEA sentence: %v", err)
			continue
		}
		if ok {
			fn(fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("GPS port closed")
}

// ParseSentence parses one NMEA 0183 sentence. It returns ok=false for
// sentence types that carry no usable position (or fixes without GPS lock)
// and an error for sentences that are malformed or fail their checksum.
func ParseSentence(line string) (Fix, bool, error) {
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, fmt.Errorf("missing sentence start: %q", line)
	}

	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return Fix{}, false, fmt.Errorf("bad checksum field: %q", line)
		}
		var sum byte
		for i := 0; i < star; i++ {
			sum ^= body[i]
		}
		if sum != byte(want) {
			return Fix{}, false, fmt.Errorf("checksum mismatch: got %02X want %02X", sum, want)
		}
		body = body[:star]
	}

	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		return Fix{}, false, fmt.Errorf("empty sentence")
	}

	// Talker ID varies (GP, GN, GL); dispatch on the sentence type only.
	typ := fields[0]
	if len(typ) == 5 {
		typ = typ[2:]
	}

	switch typ {
	case "GGA":
		return parseGGA(fields)
	case "RMC":
		return parseRMC(fields)
	default:
		return Fix{}, false, nil
	}
}

// parseGGA handles Global Positioning System Fix Data:
// $GPGGA,time,lat,N/S,lon,E/W,quality,numsat,hdop,alt,M,geoid,M,...
func parseGGA(fields []string) (Fix, bool, error) {
	if len(fields) < 10 {
		return Fix{}, false, fmt.Errorf("short GGA sentence")
	}

	quality := fields[6]
	if quality == "" || quality == "0" {
		// No GPS lock yet.
		return Fix{}, false, nil
	}

	lat, err := parseCoordinate(fields[2], fields[3])
	if err != nil {
		return Fix{}, false, fmt.Errorf("GGA latitude: %w", err)
	}
	lon, err := parseCoordinate(fields[4], fields[5])
	if err != nil {
		return Fix{}, false, fmt.Errorf("GGA longitude: %w", err)
	}

	alt := 0.0
	if fields[9] != "" {
		alt, err = strconv.ParseFloat(fields[9], 64)
		if err != nil {
			return Fix{}, false, fmt.Errorf("GGA altitude: %w", err)
		}
	}

	return Fix{
		LatitudeDeg:  lat,
		LongitudeDeg: lon,
		AltitudeM:    alt,
		Time:         time.Now().UTC(),
	}, true, nil
}

// parseRMC handles Recommended Minimum data:
// $GPRMC,time,status,lat,N/S,lon,E/W,speed,course,date,...
func parseRMC(fields []string) (Fix, bool, error) {
	if len(fields) < 7 {
		return Fix{}, false, fmt.Errorf("short RMC sentence")
	}

	if fields[2] != "A" {
		// V = void, no valid fix.
		return Fix{}, false, nil
	}

	lat, err := parseCoordinate(fields[3], fields[4])
	if err != nil {
		return Fix{}, false, fmt.Errorf("RMC latitude: %w", err)
	}
	lon, err := parseCoordinate(fields[5], fields[6])
	if err != nil {
		return Fix{}, false, fmt.Errorf("RMC longitude: %w", err)
	}

	return Fix{
		LatitudeDeg:  lat,
		LongitudeDeg: lon,
		Time:         time.Now().UTC(),
	}, true, nil
}

// parseCoordinate converts NMEA ddmm.mmmm / dddmm.mmmm plus hemisphere into
// signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	if value == "" || hemisphere == "" {
		return 0, fmt.Errorf("empty coordinate")
	}

	dot := strings.IndexByte(value, '.')
	if dot < 3 {
		return 0, fmt.Errorf("malformed coordinate %q", value)
	}

	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("degrees in %q: %w", value, err)
	}
	min, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("minutes in %q: %w", value, err)
	}

	coord := deg + min/60.0

	switch hemisphere {
	case "N", "E":
		return coord, nil
	case "S", "W":
		return -coord, nil
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemisphere)
	}
}
