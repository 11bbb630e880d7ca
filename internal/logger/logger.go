// Package logger: логирование с префиксом сервиса и асинхронной записью,
// чтобы запросы не ждали вывода. Поддерживает замер времени выполнения вызовов хранилища.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const (
	asyncBufferSize = 8192
	slowCall        = 100 * time.Millisecond
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

var (
	prefix   string
	mu       sync.RWMutex
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	default:
		return levelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		setLevel(parseLevel(v))
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем, теряем строку
	}
}

func setLevel(l level) {
	mu.Lock()
	logLevel = l
	mu.Unlock()
}

func debugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel == levelDebug
}

// SetPrefix задаёт префикс для всех последующих строк (например "api").
func SetPrefix(p string) {
	prefix = p
}

// SetLevel переключает уровень из конфигурации ("debug" или "info").
func SetLevel(s string) {
	setLevel(parseLevel(s))
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if debugEnabled() {
		enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя вызова и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debugEnabled() || elapsed >= slowCall {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration для defer: defer logger.DeferLogDuration("chat.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
