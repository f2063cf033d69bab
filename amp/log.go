package amp

// Logger is satisfied by *logrus.Logger and *logrus.Entry.
type Logger interface {
	Infof(string, ...interface{})
	Info(...interface{})
	Debugf(string, ...interface{})
	Debug(...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Error(...interface{})
}
