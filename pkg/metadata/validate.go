package metadata

// resolve checks every reference between entities. Series keys are checked
// later against the directory that names them.
func (b *builder) resolve() {
	m := b.m

	for _, c := range m.Classes.Rows() {
		if c.ClassGroupID != 0 && m.ClassGroups.Len() > 0 && !m.ClassGroups.Has(c.ClassGroupID) {
			b.violate("class %d (%s): unknown class group %d", c.ID, c.Name, c.ClassGroupID)
		}
	}
	for _, c := range m.Categories.Rows() {
		if !m.Classes.Has(c.ClassID) {
			b.violate("category %d (%s): unknown class %d", c.ID, c.Name, c.ClassID)
		}
	}
	for _, o := range m.Objects.Rows() {
		if !m.Classes.Has(o.ClassID) {
			b.violate("object %d (%s): unknown class %d", o.ID, o.Name, o.ClassID)
		}
		if !m.Categories.Has(o.CategoryID) {
			b.violate("object %d (%s): unknown category %d", o.ID, o.Name, o.CategoryID)
		}
	}
	for _, c := range m.Collections.Rows() {
		if !m.Classes.Has(c.ParentClassID) {
			b.violate("collection %d (%s): unknown parent class %d", c.ID, c.Name, c.ParentClassID)
		}
		if !m.Classes.Has(c.ChildClassID) {
			b.violate("collection %d (%s): unknown child class %d", c.ID, c.Name, c.ChildClassID)
		}
	}
	for _, ms := range m.Memberships.Rows() {
		b.resolveMembership(ms)
	}
	for _, p := range m.Properties.Rows() {
		if !m.Collections.Has(p.CollectionID) {
			b.violate("property %d (%s): unknown collection %d", p.ID, p.Name, p.CollectionID)
		}
	}
	for _, a := range m.Attributes.Rows() {
		if !m.Classes.Has(a.ClassID) {
			b.violate("attribute %d (%s): unknown class %d", a.ID, a.Name, a.ClassID)
		}
	}
	for _, cc := range m.CustomColumns.Rows() {
		if !m.Classes.Has(cc.ClassID) {
			b.violate("custom column %d (%s): unknown class %d", cc.ID, cc.Name, cc.ClassID)
		}
	}
	for i, ad := range m.AttributeData {
		if !m.Attributes.Has(ad.AttributeID) {
			b.violate("attribute data %d: unknown attribute %d", i+1, ad.AttributeID)
		}
		if ad.HasObject && !m.Objects.Has(ad.ObjectID) {
			b.violate("attribute data %d: unknown object %d", i+1, ad.ObjectID)
		}
	}
	for i, mo := range m.MemoObjects {
		if !m.Objects.Has(mo.ObjectID) {
			b.violate("memo object %d: unknown object %d", i+1, mo.ObjectID)
		}
		if !m.CustomColumns.Has(mo.ColumnID) {
			b.violate("memo object %d: unknown custom column %d", i+1, mo.ColumnID)
		}
	}
	for i, w := range m.SampleWeights {
		if !m.Samples.Has(w.SampleID) {
			b.violate("sample weight %d: unknown sample %d", i+1, w.SampleID)
		}
	}

	intervals := m.periods[PeriodInterval]
	for _, phase := range Phases {
		for i, pi := range m.PhaseIntervals[phase] {
			if intervals == nil || !intervals.Has(pi.IntervalID) {
				b.violate("%s row %d: unknown interval %d", phaseTableName(phase), i+1, pi.IntervalID)
			}
		}
	}
}

func (b *builder) resolveMembership(ms Membership) {
	m := b.m
	coll, ok := m.Collections.Get(ms.CollectionID)
	if !ok {
		b.violate("membership %d: unknown collection %d", ms.ID, ms.CollectionID)
	}
	if !m.Classes.Has(ms.ParentClassID) {
		b.violate("membership %d: unknown parent class %d", ms.ID, ms.ParentClassID)
	}
	if !m.Classes.Has(ms.ChildClassID) {
		b.violate("membership %d: unknown child class %d", ms.ID, ms.ChildClassID)
	}
	if ok && (coll.ParentClassID != ms.ParentClassID || coll.ChildClassID != ms.ChildClassID) {
		b.violate("membership %d: classes %d/%d do not match collection %d (%s)",
			ms.ID, ms.ParentClassID, ms.ChildClassID, coll.ID, coll.Name)
	}

	parent, ok := m.Objects.Get(ms.ParentObjectID)
	if !ok {
		b.violate("membership %d: unknown parent object %d", ms.ID, ms.ParentObjectID)
	} else if parent.ClassID != ms.ParentClassID {
		b.violate("membership %d: parent object %d is not of class %d", ms.ID, parent.ID, ms.ParentClassID)
	}
	child, ok := m.Objects.Get(ms.ChildObjectID)
	if !ok {
		b.violate("membership %d: unknown child object %d", ms.ID, ms.ChildObjectID)
	} else if child.ClassID != ms.ChildClassID {
		b.violate("membership %d: child object %d is not of class %d", ms.ID, child.ID, ms.ChildClassID)
	}
}
