// Package rxtest provides test doubles driven by rxcore.VirtualTimeScheduler:
// a recording observer, cold and hot observables built from timed
// notifications, and a diagnostic sink that records isolated faults.
//
// 基于虚拟时间调度器的测试工具：记录观察者、冷/热测试Observable、记录型诊断接收器
package rxtest
