package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var symbols = false
var locator = false
var probe = false
var toolchain = false
var config = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Symbols returns true if the dynamic symbol reader and the versioning
// policy engine should log.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol reader and policy engine.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Locator returns true if every source location lookup should be logged.
func Locator() bool {
	return locator
}

// LocatorLogger returns a logger for the source locator.
func LocatorLogger() Logger {
	return makeFlaggableLogger(locator, Fields{"layer": "locator"})
}

// Probe returns true if the special member probe should log.
func Probe() bool {
	return probe
}

// ProbeLogger returns a logger for the probe harness and classifier.
func ProbeLogger() Logger {
	return makeFlaggableLogger(probe, Fields{"layer": "probe"})
}

// Toolchain returns true if external process invocations should be logged.
func Toolchain() bool {
	return toolchain
}

// ToolchainLogger returns a logger for external process invocations.
func ToolchainLogger() Logger {
	return makeFlaggableLogger(toolchain, Fields{"layer": "toolchain"})
}

// Config returns true if configuration loading should be logged.
func Config() bool {
	return config
}

// ConfigLogger returns a logger for configuration loading.
func ConfigLogger() Logger {
	return makeFlaggableLogger(config, Fields{"layer": "config"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "abicheck-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "symbols,probe"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "symbols":
			symbols = true
		case "locator":
			locator = true
		case "probe":
			probe = true
		case "toolchain":
			toolchain = true
		case "config":
			config = true
		default:
			return fmt.Errorf("unknown log component %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
