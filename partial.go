// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import "fmt"

// A PartialResult is one increment of an operation's result. Value
// is nil when the result carries progress only. DoneFraction is the
// fraction of the operation's total work completed since the
// previous partial result; the fractions of a complete stream sum to
// 1.
type PartialResult struct {
	Value        interface{}
	DoneFraction float64
}

func (p PartialResult) String() string {
	if p.Value == nil {
		return fmt.Sprintf("progress(%g)", p.DoneFraction)
	}
	return fmt.Sprintf("partial(%v, %g)", p.Value, p.DoneFraction)
}
