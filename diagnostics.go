// Diagnostics for rxcore
// 诊断输出：所有被捕获并吞掉的异常都会上报到这里
package rxcore

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ErrDisposed 对已释放的对象进行操作
const ErrDisposed = errors.ConstError("rxcore: disposed")

// ============================================================================
// Fault 故障描述
// ============================================================================

// FaultKind 故障类别
type FaultKind int

const (
	// ObserverFault 观察者回调中发生panic
	ObserverFault FaultKind = iota
	// DisposalFault 释放动作中发生panic
	DisposalFault
	// ScheduledActionFault 调度任务中发生panic
	ScheduledActionFault
	// TeardownFault ConnectableObservable断开连接时发生panic
	TeardownFault
)

func (k FaultKind) String() string {
	switch k {
	case ObserverFault:
		return "observer"
	case DisposalFault:
		return "disposal"
	case ScheduledActionFault:
		return "scheduled-action"
	case TeardownFault:
		return "teardown"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Fault 一次被隔离的故障
type Fault struct {
	Kind   FaultKind
	Source string
	Err    error
}

// PanicError 由recover得到的panic值
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap 如果panic值本身是error则返回它
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ============================================================================
// DiagnosticSink 诊断接收器
// ============================================================================

// DiagnosticSink 接收被隔离的故障，实现必须是并发安全的
type DiagnosticSink interface {
	Report(fault Fault)
}

// DiagnosticSinkFunc 函数形式的DiagnosticSink
type DiagnosticSinkFunc func(fault Fault)

// Report 调用函数本身
func (f DiagnosticSinkFunc) Report(fault Fault) { f(fault) }

type sinkHolder struct {
	sink DiagnosticSink
}

var currentSink atomic.Pointer[sinkHolder]

func init() {
	currentSink.Store(&sinkHolder{sink: NewZerologSink(zerolog.New(os.Stderr).With().Timestamp().Logger())})
}

// SetDiagnosticSink 替换进程级诊断接收器，返回旧的接收器。nil恢复为丢弃
func SetDiagnosticSink(sink DiagnosticSink) DiagnosticSink {
	if sink == nil {
		sink = NewZerologSink(zerolog.New(io.Discard))
	}
	old := currentSink.Swap(&sinkHolder{sink: sink})
	return old.sink
}

// report 上报故障，接收器自身的panic不会传播出去
func report(kind FaultKind, source string, err error) {
	h := currentSink.Load()
	defer func() { _ = recover() }()
	h.sink.Report(Fault{Kind: kind, Source: source, Err: err})
}

// ============================================================================
// zerolog 实现
// ============================================================================

type zerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink 使用zerolog输出故障
func NewZerologSink(logger zerolog.Logger) DiagnosticSink {
	return &zerologSink{logger: logger}
}

func (s *zerologSink) Report(fault Fault) {
	ev := s.logger.Warn().
		Str("kind", fault.Kind.String()).
		Str("source", fault.Source)
	var pe *PanicError
	if errors.As(fault.Err, &pe) && len(pe.Stack) > 0 {
		ev = ev.Bytes("stack", pe.Stack)
	}
	ev.Err(fault.Err).Msg("rxcore: isolated fault")
}

// ============================================================================
// panic 捕获
// ============================================================================

// SafeExecute 安全执行函数，把panic转换为error
func SafeExecute(action func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	action()
	return nil
}

// guard 执行action，若发生panic则上报
func guard(kind FaultKind, source string, action func()) bool {
	if err := SafeExecute(action); err != nil {
		report(kind, source, err)
		return false
	}
	return true
}
