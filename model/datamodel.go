package model

// DataModel owns every uniquing set and slot registry for one pipeline run
// (spec §4.1, §4.4 run phase 1: "freeze all entity structs"). It is built
// once, handed to every Finalizer for slot registration, frozen, and then
// shared read-only (modulo the uniquing sets' internal locking) by every
// Source/Sink/Finalizer for the rest of the run.
type DataModel struct {
	ModuleSlots   *SlotRegistry[*Module]
	FileSlots     *SlotRegistry[*File]
	FunctionSlots *SlotRegistry[*Function]
	ContextSlots  *SlotRegistry[*Context]
	MetricSlots   *SlotRegistry[*Metric]
	ThreadSlots   *SlotRegistry[*Thread]

	Modules   *ModuleSet
	Files     *FileSet
	Functions *FunctionSet
	Metrics   *MetricSet
	Threads   *ThreadSet
	Contexts  *ContextTree

	ExtraStatistics []*ExtraStatistic

	frozen bool
}

// NewDataModel allocates empty, unfrozen registries. Finalizers register
// their slots against the *Slots fields before Freeze is called.
func NewDataModel() *DataModel {
	return &DataModel{
		ModuleSlots:   NewSlotRegistry[*Module](),
		FileSlots:     NewSlotRegistry[*File](),
		FunctionSlots: NewSlotRegistry[*Function](),
		ContextSlots:  NewSlotRegistry[*Context](),
		MetricSlots:   NewSlotRegistry[*Metric](),
		ThreadSlots:   NewSlotRegistry[*Thread](),
	}
}

// Freeze closes every slot registry and constructs the uniquing sets and
// root Context. Must be called exactly once, after every Finalizer has
// registered its slots and before any entity is created (spec run phase 1).
func (dm *DataModel) Freeze() {
	if dm.frozen {
		panic("model: DataModel.Freeze called twice")
	}
	dm.ModuleSlots.Freeze()
	dm.FileSlots.Freeze()
	dm.FunctionSlots.Freeze()
	dm.ContextSlots.Freeze()
	dm.MetricSlots.Freeze()
	dm.ThreadSlots.Freeze()

	dm.Modules = NewModuleSet(dm.ModuleSlots)
	dm.Files = NewFileSet(dm.FileSlots)
	dm.Functions = NewFunctionSet(dm.FunctionSlots)
	dm.Metrics = NewMetricSet(dm.MetricSlots)
	dm.Threads = NewThreadSet(dm.ThreadSlots)
	dm.Contexts = NewContextTree(dm.ContextSlots)

	dm.frozen = true
}

// Frozen reports whether Freeze has run.
func (dm *DataModel) Frozen() bool { return dm.frozen }

// AddExtraStatistic registers a derived metric formula. Must be called
// before Freeze's callers start relying on dm.ExtraStatistics being
// complete (there's no hard invariant tying it to Freeze, but by convention
// all ExtraStatistics are registered during pipeline binding).
func (dm *DataModel) AddExtraStatistic(es *ExtraStatistic) {
	dm.ExtraStatistics = append(dm.ExtraStatistics, es)
}
