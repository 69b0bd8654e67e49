// Copyright (C) 2026 The corocal authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

func TestForEach(t *testing.T) {
	c := Context{}
	var sum int64
	if err := c.ForEach(100, 4, func(i int) error {
		atomic.AddInt64(&sum, int64(i))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if sum != 4950 {
		t.Errorf("sum got %d expect 4950", sum)
	}
}

func TestForEachJoinsErrors(t *testing.T) {
	c := Context{}
	err := c.ForEach(10, 3, func(i int) error {
		if i == 3 || i == 7 {
			return fmt.Errorf("cube %d failed", i)
		}
		return nil
	})
	if err == nil {
		t.Fatalf("expect a joined error")
	}
	if !strings.Contains(err.Error(), "cube 3 failed") || !strings.Contains(err.Error(), "cube 7 failed") {
		t.Errorf("joined error %q missing a failure", err.Error())
	}
}

func TestThreadsFor(t *testing.T) {
	c := Context{MaxThreads: 8, MemoryMB: 4000}
	if got := c.ThreadsFor(0); got != 8 {
		t.Errorf("unbounded got %d expect 8", got)
	}
	if got := c.ThreadsFor(1000); got != 2 {
		t.Errorf("memory bounded got %d expect 2", got)
	}
	if got := c.ThreadsFor(100000); got != 1 {
		t.Errorf("oversized cube got %d expect at least 1 thread", got)
	}
}
