package usecase

import "time"

func (uc *Checkout) SetClock(now func() time.Time) { uc.now = now }

func (uc *Checkout) SetCodeGenerator(gen func(time.Time) string) { uc.newCode = gen }

func (v *CouponValidator) SetClock(now func() time.Time) { v.now = now }
