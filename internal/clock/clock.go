// Package clock は現在時刻の取得を抽象化する。
// テストでは Fake を差し替えて時刻を固定・進行させる。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// Func は関数をClockとして扱うためのアダプタ。
type Func func() time.Time

// Now は関数を呼び出して現在時刻を返す。
func (f Func) Now() time.Time {
	return f()
}

// System はシステム時刻を返すClock。
// time.Nowの戻り値はモノトニック時刻を含むため、同一プロセス内の差分計算は時刻補正の影響を受けない。
var System Clock = Func(time.Now)

// Fake はテスト用の手動で進めるClock。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定時刻で停止したFakeを生成する。
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now は現在の固定時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance は時刻をdだけ進める。負の値で巻き戻すこともできる。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set は時刻をtに設定する。
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
