package logic

// Update is the result of storing one condition value.
type Update struct {
	Condition Condition
	Value     bool
	Changed   bool
	Before    Predicates
	After     Predicates
}

// Aggregator holds the current value of every condition.
type Aggregator struct {
	values Conditions
}

// Update stores v for c and recomputes the predicates.
// Storing an unchanged value reports Changed=false and nothing else differs.
func (a *Aggregator) Update(c Condition, v bool) Update {
	before := a.values.Predicates()
	changed := a.values[c] != v
	a.values[c] = v
	return Update{
		Condition: c,
		Value:     v,
		Changed:   changed,
		Before:    before,
		After:     a.values.Predicates(),
	}
}

// Values returns a copy of the stored conditions.
func (a *Aggregator) Values() Conditions {
	return a.values
}

// Predicates returns the predicates for the stored conditions.
func (a *Aggregator) Predicates() Predicates {
	return a.values.Predicates()
}
