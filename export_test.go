package tempgres

// NewDatabaseName is exported for black-box tests of name generation.
var NewDatabaseName = newDatabaseName
