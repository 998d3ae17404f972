package pwm

// AttributeFile is one open sysfs attribute of a PWM channel. Reads and
// writes always address the whole value from offset 0.
type AttributeFile interface {
	ReadAttr() (string, error)
	WriteAttr(value string) error
	Close() error
}

// OpenFunc opens the attribute file at path for reading and writing.
type OpenFunc func(path string) (AttributeFile, error)
