// Package protocol implements the line-based scale command set spoken to TCP
// clients.
//
//	S, SI        S S <weight> <unit>
//	T            T S <tare> <unit>
//	TA           TA A <tare> <unit>
//	TA<number>   TA A <weight> <unit>   or   TA L
//	Z            Z A
//
// Anything else is answered with "Unknown command: <text>". Every response
// ends with CRLF.
package protocol

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/charlie0129/netscale/pkg/scale"
)

const Terminator = "\r\n"

var (
	// ErrParse is returned when the number in a TA<number> command is not a
	// finite number. The response is still valid and must be sent.
	ErrParse = errors.New("invalid number")

	// ErrUnknownCommand is returned for unrecognized commands. The response
	// is still valid and must be sent.
	ErrUnknownCommand = errors.New("unknown command")
)

// Scale is the state a command acts on. All connections share one Scale.
type Scale interface {
	Reported() float64
	Tare() float64
	SetTare(v float64)
	TareOffset() float64
	Zero()
}

// Response is the text answering one command, without its terminator.
type Response string

// Bytes returns the response as it goes on the wire.
func (r Response) Bytes() []byte {
	return []byte(string(r) + Terminator)
}

// Engine formats responses for a unit and number format.
type Engine struct {
	Unit     string
	Width    int
	Decimals int
}

// NewEngine returns an Engine with the default field width of 10.
func NewEngine(unit string, decimals int) *Engine {
	return &Engine{
		Unit:     unit,
		Width:    10,
		Decimals: decimals,
	}
}

// Handle executes one command line against s. Parse errors and unknown
// commands never change s; they are reported through err together with the
// response to send.
func (e *Engine) Handle(s Scale, line string) (Response, error) {
	switch line {
	case "S", "SI":
		return e.weighted("S S ", s.Reported()), nil
	case "T":
		return e.weighted("T S ", s.Tare()), nil
	case "TA":
		return e.weighted("TA A ", s.TareOffset()), nil
	case "Z":
		s.Zero()
		return "Z A", nil
	}

	if rest, ok := strings.CutPrefix(line, "TA"); ok {
		v, err := parseNumber(rest)
		if err != nil {
			return "TA L ", err
		}
		s.SetTare(v)
		// Answers with the current weight, not the new tare.
		return e.weighted("TA A ", s.Reported()), nil
	}

	return Response("Unknown command: <" + line + ">"), ErrUnknownCommand
}

func (e *Engine) weighted(prefix string, w float64) Response {
	return Response(prefix + scale.FormatWeight(w, e.Width, e.Decimals) + " " + e.Unit)
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Join(ErrParse, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrParse
	}
	return v, nil
}
