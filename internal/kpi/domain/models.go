package domain

import "time"

// TimestampLayout is fixed width so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Definition names a tenant metric. Points are appended under it.
type Definition struct {
	ID          string    `gorm:"column:kpi_id;type:varchar(36);primaryKey" json:"kpi_id"`
	TenantID    string    `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_kpi_definitions_tenant_name,priority:1" json:"tenant_id"`
	Name        string    `gorm:"column:name;type:varchar(255);not null;index:idx_kpi_definitions_tenant_name,priority:2" json:"name"`
	Unit        string    `gorm:"column:unit;type:varchar(50)" json:"unit,omitempty"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedBy   string    `gorm:"column:created_by;type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Definition) TableName() string { return "kpi_definitions" }

// Point is one observation. A (tenant, kpi, ts) triple is stored once.
type Point struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	TenantID  string    `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:ux_kpi_points_tenant_kpi_ts,priority:1" json:"tenant_id"`
	KPIID     string    `gorm:"column:kpi_id;type:varchar(36);not null;uniqueIndex:ux_kpi_points_tenant_kpi_ts,priority:2" json:"kpi_id"`
	TS        string    `gorm:"column:ts;type:varchar(32);not null;uniqueIndex:ux_kpi_points_tenant_kpi_ts,priority:3" json:"ts"`
	Value     float64   `gorm:"column:value;not null" json:"value"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Point) TableName() string { return "kpi_points" }
