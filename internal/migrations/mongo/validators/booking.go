package validators

import "go.mongodb.org/mongo-driver/bson"

var clockPattern = "^([01][0-9]|2[0-3]):[0-5][0-9]$"

var datePattern = "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"

var AppointmentValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"transaction_id",
			"user_id",
			"instructor_id",
			"appointment_type_id",
			"date",
			"start_time",
			"end_time",
			"meeting_type",
			"status",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"transaction_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"instructor_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"appointment_type_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"date": bson.M{
				"bsonType": "string",
				"pattern":  datePattern,
			},

			"start_time": bson.M{
				"bsonType": "string",
				"pattern":  clockPattern,
			},

			"end_time": bson.M{
				"bsonType": "string",
				"pattern":  clockPattern,
			},

			"meeting_type": bson.M{
				"bsonType": "string",
				"enum": []string{
					"in_person",
					"online",
					"phone",
				},
			},

			"notes": bson.M{
				"bsonType":  "string",
				"maxLength": 1000,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"confirmed",
					"cancelled",
					"completed",
					"no_show",
				},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

var TransactionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"user_id",
			"instructor_id",
			"date",
			"start_time",
			"end_time",
			"status",
			"created_at",
			"expires_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"date": bson.M{
				"bsonType": "string",
				"pattern":  datePattern,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"committed",
					"rolled_back",
					"expired",
				},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"expires_at": bson.M{
				"bsonType": "date",
			},

			"completed_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

var AuditValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"event_type",
			"success",
			"timestamp",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"event_type": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"success": bson.M{
				"bsonType": "bool",
			},

			"timestamp": bson.M{
				"bsonType": "date",
			},

			"metadata": bson.M{
				"bsonType": "object",
			},
		},
	},
}
