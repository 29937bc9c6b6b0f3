package logsvc

import (
	"fmt"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/feeledger/core"
)

// rollbar's person is process-wide; held from prepare until the item is queued
var mu sync.Mutex

// RollbarLogger reports to rollbar and writes structured logs through zap.
type RollbarLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{zl: zl.WithOptions(zap.AddCallerSkip(2))}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, core.Actor
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, []zap.Field) {
	var actorSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	fields := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case core.Actor:
			if !actorSet { // only set one Actor
				rollbar.SetPerson(v.ID, v.Name, "")
				fields = append(fields, zap.String("actor", v.String()))
				actorSet = true
			}
			continue
		case error:
			fields = append(fields, zap.Error(v))
		case map[string]interface{}:
			for k, val := range v {
				fields = append(fields, zap.Any(k, val))
			}
		default:
			fields = append(fields, zap.Any(fmt.Sprintf("arg%d", i), v))
		}
		rbArgs = append(rbArgs, arg)
	}
	if !actorSet {
		rollbar.ClearPerson()
	}
	return rbArgs, fields
}

func (l RollbarLogger) log(report func(...interface{}), write func(string, ...zap.Field), msg string, args []interface{}) {
	mu.Lock()
	rbArgs, fields := l.prepare(msg, args)
	report(rbArgs...)
	mu.Unlock()
	write(msg, fields...)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log(rollbar.Debug, l.zl.Debug, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log(rollbar.Info, l.zl.Info, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log(rollbar.Warning, l.zl.Warn, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log(rollbar.Error, l.zl.Error, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.Critical, func(msg string, fields ...zap.Field) {
		rollbar.Wait()
		l.zl.Fatal(msg, fields...)
	}, msg, args)
}

// NewZapLogger builds the process logger: human readable in debug mode, JSON otherwise.
func NewZapLogger(conf *core.Config, name string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if conf.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return zl.Named(name).With(zap.String("env", conf.Env), zap.String("build", conf.Build)), nil
}
