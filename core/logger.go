package core

// Logger is implemented by services/logger. Args may carry errors, maps of extras and an Actor.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Actor is the staff member (or system job) behind a ledger mutation.
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

func (a Actor) String() string {
	if a.Name == "" {
		return a.ID
	}
	return a.Name + " (" + a.ID + ")"
}

// SystemActor is recorded on mutations performed by scheduled jobs.
var SystemActor = Actor{ID: "system", Name: "Scheduler"}
