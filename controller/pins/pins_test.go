package pins

import "testing"

func TestLevel(t *testing.T) {
	if level(true, false) != 1 || level(false, false) != 0 {
		t.Error("active high line should follow the requested state")
	}
	if level(true, true) != 0 || level(false, true) != 1 {
		t.Error("active low line should invert the requested state")
	}
}

func TestConfigString(t *testing.T) {
	c := Config{Chip: "gpiochip0", Line: 13}
	if c.String() != "gpiochip0:13" {
		t.Error("unexpected line name:", c.String())
	}
}
