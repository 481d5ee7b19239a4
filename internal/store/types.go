package store

import "time"

// IEEE 2030.5 RoleFlagsType bits carried on a MirrorUsagePoint.
const (
	RoleFlagIsMirror                   = 1 << 0
	RoleFlagIsPremisesAggregationPoint = 1 << 1
	RoleFlagIsPEV                      = 1 << 2
	RoleFlagIsDER                      = 1 << 3
	RoleFlagIsRevenueQuality           = 1 << 4
	RoleFlagIsDC                       = 1 << 5
	RoleFlagIsSubmeter                 = 1 << 6
)

// Reading locations the harness cares about, as role-flag masks.
const (
	SiteReadingFlags   = RoleFlagIsMirror | RoleFlagIsPremisesAggregationPoint
	DeviceReadingFlags = RoleFlagIsMirror | RoleFlagIsDER | RoleFlagIsSubmeter
)

// UomActivePowerWatts is the IEEE 2030.5 UomType code for active power (W).
const UomActivePowerWatts = 38

// DataQualifierAverage is the IEEE 2030.5 DataQualifierType code for
// average readings, the mandatory qualifier for CSIP-AUS DER data.
const DataQualifierAverage = 2

// Site is one registered EndDevice.
type Site struct {
	ID              int64
	NMI             string
	LFDI            string
	SFDI            int64
	AggregatorID    int64
	RegistrationPIN int64
	DeviceCategory  int64
	ChangedTime     time.Time
	CreatedTime     time.Time
}

// DERSetting mirrors the client's posted DERSettings.
type DERSetting struct {
	ID                  int64
	SiteID              int64
	GradW               *int64
	SetMaxWValue        int64
	SetMaxWMultiplier   int64
	SetMaxVarValue      *int64
	SetMaxVarMultiplier *int64
	ChangedTime         time.Time
}

// DERRating mirrors the client's posted DERCapability.
type DERRating struct {
	ID              int64
	SiteID          int64
	MaxWValue       int64
	MaxWMultiplier  int64
	MaxVaValue      *int64
	MaxVaMultiplier *int64
	ChangedTime     time.Time
}

// DERStatus mirrors the client's posted DERStatus.
type DERStatus struct {
	ID                    int64
	SiteID                int64
	GenConnectStatus      *int64
	OperationalModeStatus *int64
	ChangedTime           time.Time
}

// ReadingType is one MirrorUsagePoint reading stream declaration.
type ReadingType struct {
	ID                    int64
	SiteID                int64
	Uom                   int64
	DataQualifier         int64
	FlowDirection         int64
	AccumulationBehaviour int64
	Kind                  int64
	Phase                 int64
	PowerOfTenMultiplier  int64
	RoleFlags             int64
	ChangedTime           time.Time
}

// Reading is one posted MirrorMeterReading value.
type Reading struct {
	ID                int64
	ReadingTypeID     int64
	TimePeriodStart   time.Time
	TimePeriodSeconds int64
	Value             int64
	QualityFlags      int64
	ChangedTime       time.Time
}

// ControlGroup is a DERProgram: controls within a group share its primacy.
type ControlGroup struct {
	ID          int64
	Description string
	Primacy     int64
	ChangedTime time.Time
}

// Control is one DERControl. Limit fields are decimal watts; nil means the
// control does not constrain that quantity.
type Control struct {
	ID                   int64
	GroupID              int64
	StartTime            time.Time
	DurationSeconds      int64
	ImportLimitWatts     *float64
	ExportLimitWatts     *float64
	GenerationLimitWatts *float64
	LoadLimitWatts       *float64
	SetEnergized         *bool
	ChangedTime          time.Time
	CreatedTime          time.Time
}

// End returns the exclusive end of the control's effective range.
func (c Control) End() time.Time {
	return c.StartTime.Add(time.Duration(c.DurationSeconds) * time.Second)
}

// ArchivedControl is a cancelled control plus its archival timestamp.
type ArchivedControl struct {
	Control
	ArchivedTime time.Time
}

// DefaultControl is a DefaultDERControl version. Each version is effective
// from its changed time until superseded.
type DefaultControl struct {
	ID                   int64
	ImportLimitWatts     *float64
	ExportLimitWatts     *float64
	GenerationLimitWatts *float64
	LoadLimitWatts       *float64
	ChangedTime          time.Time
}

// ArchivedDefaultControl is a superseded default plus its archival timestamp.
type ArchivedDefaultControl struct {
	DefaultControl
	ArchivedTime time.Time
}

// Rates are the poll/post rates the harness currently advertises.
type Rates struct {
	PollRateSeconds *int64
	PostRateSeconds *int64
	ChangedTime     time.Time
}
