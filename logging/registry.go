package logging

import (
	"regexp"
	"sync"
)

// Registry maps logger names to loggers so level patterns can reach loggers created before or
// after the patterns were set.
type Registry struct {
	mu      sync.RWMutex
	loggers map[string]Logger
	rules   []levelRule
}

// levelRule is a compiled LoggerPatternConfig.
type levelRule struct {
	matcher *regexp.Regexp
	level   Level
}

var globalRegistry = newRegistry()

func newRegistry() *Registry {
	return &Registry{loggers: make(map[string]Logger)}
}

// register adds a named logger to the global registry. Unnamed loggers are returned untouched.
func register(logger *impl) Logger {
	if logger.name != "" {
		globalRegistry.registerLogger(logger.name, logger)
	}
	return logger
}

// registerLogger tracks logger under name and, when a rule matches, sets its level.
func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, ok := lr.levelForLocked(name); ok {
		logger.SetLevel(level)
	}
}

func (lr *Registry) loggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

// levelForLocked returns the level of the last rule matching name.
func (lr *Registry) levelForLocked(name string) (Level, bool) {
	for i := len(lr.rules) - 1; i >= 0; i-- {
		if lr.rules[i].matcher.MatchString(name) {
			return lr.rules[i].level, true
		}
	}
	return INFO, false
}

// Update replaces the rules and re-levels every registered logger; loggers no rule matches go back
// to INFO. Invalid patterns are skipped with a warning on errorLogger. An unknown level fails the
// whole update and leaves the previous rules in place.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	rules := make([]levelRule, 0, len(logConfig))
	for _, lpc := range logConfig {
		matcher, err := lpc.matcher()
		if err != nil {
			errorLogger.Warnw("skipping logger pattern", "pattern", lpc.Pattern, "error", err)
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return err
		}
		rules = append(rules, levelRule{matcher: matcher, level: level})
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.rules = rules
	for name, logger := range lr.loggers {
		level, _ := lr.levelForLocked(name)
		logger.SetLevel(level)
	}
	return nil
}

// RegisteredLoggerNames returns the names of every registered logger, in no particular order.
func (lr *Registry) RegisteredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	return names
}

// UpdateLoggerLevels applies logConfig to every logger in the global registry.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalRegistry.Update(logConfig, errorLogger)
}
