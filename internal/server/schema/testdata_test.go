package schema

const householdDict = `{
	"software": "CSPro",
	"fileType": "dictionary",
	"name": "HOUSEHOLD_DICT",
	"labels": [{"text": "Household questionnaire"}],
	"levels": [{
		"name": "HOUSEHOLD_LEVEL",
		"ids": {"items": [
			{"name": "PROVINCE", "contentType": "numeric", "length": 2},
			{"name": "HH_NUMBER", "contentType": "numeric", "length": 4}
		]},
		"records": [{
			"name": "PERSON",
			"items": [
				{"name": "NAME", "contentType": "alpha", "length": 30},
				{"name": "AGE", "contentType": "numeric", "length": 3},
				{"name": "PHOTO", "contentType": "image"}
			]
		}]
	}]
}`

const plainDict = `{"name": "PLAIN", "labels": [{"text": "Fr", "language": "FR"}], "levels": [{"ids": {"items": [{"name": "ID", "length": 3}]}}]}`
