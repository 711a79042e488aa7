package task

// RestrictionProfile bundles the limits attached to a task. Profiles are
// immutable once attached: any change produces a new profile through the
// policy enforcer, never an in-place mutation.
type RestrictionProfile struct {
	allowedClasses [NumClasses]bool
	maxPriority    int
	syscalls       map[string]bool
	quotaCeiling   float64 // fraction of one core, 0 means unlimited
}

// NewRestrictionProfile builds a profile. A nil or empty class list allows
// every class; a nil syscall list admits every syscall.
func NewRestrictionProfile(classes []Class, maxPriority int, syscalls []string, quotaCeiling float64) *RestrictionProfile {
	p := &RestrictionProfile{
		maxPriority:  maxPriority,
		quotaCeiling: quotaCeiling,
	}
	if len(classes) == 0 {
		for i := range p.allowedClasses {
			p.allowedClasses[i] = true
		}
	} else {
		for _, c := range classes {
			if c >= 0 && c < NumClasses {
				p.allowedClasses[c] = true
			}
		}
	}
	if syscalls != nil {
		p.syscalls = make(map[string]bool, len(syscalls))
		for _, s := range syscalls {
			p.syscalls[s] = true
		}
	}
	return p
}

// UnrestrictedProfile allows all classes and syscalls with no quota ceiling.
func UnrestrictedProfile(maxPriority int) *RestrictionProfile {
	return NewRestrictionProfile(nil, maxPriority, nil, 0)
}

// RestrictedDefaultProfile pins a task to the restricted class.
func RestrictedDefaultProfile(quotaCeiling float64) *RestrictionProfile {
	return NewRestrictionProfile([]Class{ClassRestricted}, 0, nil, quotaCeiling)
}

func (p *RestrictionProfile) AllowsClass(c Class) bool {
	if c < 0 || c >= NumClasses {
		return false
	}
	return p.allowedClasses[c]
}

func (p *RestrictionProfile) MaxPriority() int { return p.maxPriority }

func (p *RestrictionProfile) AllowsSyscall(name string) bool {
	if p.syscalls == nil {
		return true
	}
	return p.syscalls[name]
}

func (p *RestrictionProfile) QuotaCeiling() float64 { return p.quotaCeiling }

// AllowedClasses returns the allowed classes in pick order.
func (p *RestrictionProfile) AllowedClasses() []Class {
	var out []Class
	for c := Class(0); c < NumClasses; c++ {
		if p.allowedClasses[c] {
			out = append(out, c)
		}
	}
	return out
}

// Tightened derives a new profile with a lower quota ceiling and no class
// beyond Restricted and Batch. Used when a task's trust score falls below
// the configured floor.
func (p *RestrictionProfile) Tightened() *RestrictionProfile {
	np := &RestrictionProfile{
		maxPriority:  0,
		quotaCeiling: p.quotaCeiling / 2,
	}
	np.allowedClasses[ClassRestricted] = true
	if p.allowedClasses[ClassBatch] {
		np.allowedClasses[ClassBatch] = true
	}
	if p.syscalls != nil {
		np.syscalls = make(map[string]bool, len(p.syscalls))
		for k, v := range p.syscalls {
			np.syscalls[k] = v
		}
	}
	return np
}

// WithClassAllowed derives a new profile that additionally allows c.
func (p *RestrictionProfile) WithClassAllowed(c Class) *RestrictionProfile {
	np := &RestrictionProfile{
		allowedClasses: p.allowedClasses,
		maxPriority:    p.maxPriority,
		quotaCeiling:   p.quotaCeiling,
	}
	if c >= 0 && c < NumClasses {
		np.allowedClasses[c] = true
	}
	if p.syscalls != nil {
		np.syscalls = make(map[string]bool, len(p.syscalls))
		for k, v := range p.syscalls {
			np.syscalls[k] = v
		}
	}
	return np
}

// WithQuotaCeiling derives a new profile with the given ceiling.
func (p *RestrictionProfile) WithQuotaCeiling(ceiling float64) *RestrictionProfile {
	np := &RestrictionProfile{
		allowedClasses: p.allowedClasses,
		maxPriority:    p.maxPriority,
		quotaCeiling:   ceiling,
	}
	if p.syscalls != nil {
		np.syscalls = make(map[string]bool, len(p.syscalls))
		for k, v := range p.syscalls {
			np.syscalls[k] = v
		}
	}
	return np
}
