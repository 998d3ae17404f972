package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// channelIndex is the channel each pin uses on its chip.
const channelIndex = "0"

// writeExport writes to the chip's export attribute.
var writeExport = func(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// waitForChannel waits up to settle for the channel directory dir. Older
// cape manager overlays create it themselves; newer kernels only create the
// chip and need the channel exported, which is done once the chip's export
// attribute shows up.
func waitForChannel(dir string, settle time.Duration) error {
	export := filepath.Join(filepath.Dir(dir), "export")
	exported := false
	deadline := time.Now().Add(settle)
	for {
		if dirExists(dir) {
			return nil
		}
		if !exported {
			if _, err := statFn(export); err == nil {
				exported = true
				if err := writeExport(export, channelIndex); err != nil && !dirExists(dir) {
					return fmt.Errorf("export %s: %w", export, err)
				}
				continue
			}
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("channel directory %s did not appear", dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
