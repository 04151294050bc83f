package entstore

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	colID             = "id"
	colContentID      = "content_id"
	colUserID         = "user_id"
	colDataType       = "data_type"
	colSubContentID   = "sub_content_id"
	colUserState      = "user_state"
	colPreload        = "preload"
	colInvalidate     = "invalidate"
	colUpdatedAt      = "updated_at"
	colScore          = "score"
	colMaxScore       = "max_score"
	colOpenedAt       = "opened_at"
	colFinishedAt     = "finished_at"
	colCompletionTime = "completion_time"
)

var (
	userDataColumns = []*schema.Column{
		{Name: colID, Type: field.TypeInt, Increment: true},
		{Name: colContentID, Type: field.TypeString},
		{Name: colUserID, Type: field.TypeString},
		{Name: colDataType, Type: field.TypeString},
		{Name: colSubContentID, Type: field.TypeString},
		// Unbounded text; user state is an opaque payload of arbitrary size.
		{Name: colUserState, Type: field.TypeString, Size: 2147483647},
		{Name: colPreload, Type: field.TypeBool},
		{Name: colInvalidate, Type: field.TypeBool},
		// Unix seconds.
		{Name: colUpdatedAt, Type: field.TypeInt64},
	}
	userDataTable = &schema.Table{
		Name:       "content_user_data",
		Columns:    userDataColumns,
		PrimaryKey: []*schema.Column{userDataColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "contentuserdata_content_id_user_id_data_type_sub_content_id",
				Unique:  true,
				Columns: []*schema.Column{userDataColumns[1], userDataColumns[2], userDataColumns[3], userDataColumns[4]},
			},
			{
				Name:    "contentuserdata_content_id",
				Columns: []*schema.Column{userDataColumns[1]},
			},
		},
	}

	finishedColumns = []*schema.Column{
		{Name: colID, Type: field.TypeInt, Increment: true},
		{Name: colContentID, Type: field.TypeString},
		{Name: colUserID, Type: field.TypeString},
		{Name: colScore, Type: field.TypeInt},
		{Name: colMaxScore, Type: field.TypeInt},
		{Name: colOpenedAt, Type: field.TypeInt64},
		{Name: colFinishedAt, Type: field.TypeInt64},
		{Name: colCompletionTime, Type: field.TypeInt64},
	}
	finishedTable = &schema.Table{
		Name:       "content_finished",
		Columns:    finishedColumns,
		PrimaryKey: []*schema.Column{finishedColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "contentfinished_content_id_user_id",
				Unique:  true,
				Columns: []*schema.Column{finishedColumns[1], finishedColumns[2]},
			},
		},
	}

	tables = []*schema.Table{userDataTable, finishedTable}

	userDataSelect = []string{colContentID, colUserID, colDataType, colSubContentID, colUserState, colPreload, colInvalidate}
	finishedSelect = []string{colContentID, colUserID, colScore, colMaxScore, colOpenedAt, colFinishedAt, colCompletionTime}
)
