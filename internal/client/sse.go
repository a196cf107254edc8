package client

import (
	"bufio"
	"strings"
)

// frame is one server-sent event.
type frame struct {
	id    string
	event string
	data  []byte
}

// readFrame reads up to the next blank line that ends a frame with data.
// Comment lines and data-less frames are skipped. Multiple data lines are
// joined with newlines.
func readFrame(r *bufio.Reader) (frame, error) {
	var (
		f       frame
		hasData bool
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return f, nil
			}
			f = frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			f.id = value
		case "event":
			f.event = value
		case "data":
			if hasData {
				f.data = append(f.data, '\n')
			}
			f.data = append(f.data, value...)
			hasData = true
		}
	}
}
