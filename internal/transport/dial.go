package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnString is the parsed form of the three connection-string shapes
// spec.md §3 defines: "ser:<port>[,<baud>]", "tn:<host>[,<login>[,<passwd>]]",
// "ws:<host>[,<passwd>]".
type ConnString struct {
	Proto  string // "ser" | "tn" | "ws"
	Target string // port or host
	Baud   int    // ser only, defaults to 115200
	Login  string // tn only
	Passwd string // tn/ws only
}

// ParseConnString splits a raw connection string into its typed fields.
// Missing optional fields are left empty/zero for the caller to prompt for.
func ParseConnString(raw string) (ConnString, error) {
	proto, target, ok := strings.Cut(raw, ":")
	if !ok {
		return ConnString{}, fmt.Errorf("transport: malformed connection string %q", raw)
	}
	proto = strings.TrimSpace(proto)
	params := strings.Split(target, ",")
	for i := range params {
		params[i] = strings.TrimSpace(params[i])
	}
	cs := ConnString{Proto: proto, Target: params[0]}
	switch proto {
	case "ser":
		cs.Baud = 115200
		if len(params) > 1 && params[1] != "" {
			baud, err := strconv.Atoi(params[1])
			if err != nil {
				return ConnString{}, fmt.Errorf("transport: invalid baud %q: %w", params[1], err)
			}
			cs.Baud = baud
		}
	case "tn":
		if len(params) > 1 {
			cs.Login = params[1]
		}
		if len(params) > 2 {
			cs.Passwd = params[2]
		}
	case "ws":
		if len(params) > 1 {
			cs.Passwd = params[1]
		}
	default:
		return ConnString{}, fmt.Errorf("transport: unknown protocol %q", proto)
	}
	return cs, nil
}

// Dial opens the Conn variant named by cs. Callers are expected to have
// already filled in any missing Login/Passwd by prompting interactively.
func Dial(cs ConnString) (Conn, error) {
	switch cs.Proto {
	case "ser":
		return OpenSerial(cs.Target, cs.Baud)
	case "tn":
		return DialTelnet(cs.Target, cs.Login, cs.Passwd)
	case "ws":
		return DialWebsocket(cs.Target, cs.Passwd)
	default:
		return nil, fmt.Errorf("transport: unknown protocol %q", cs.Proto)
	}
}
