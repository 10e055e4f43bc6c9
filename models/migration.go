package models

import (
	"log"

	"github.com/mmdatafocus/benefits_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &Project{}, &CompanyTransaction{},
		&Employee{}, &EmployeeBudget{},
		&Order{}, &CompensationTransaction{},
		&LunchSubscription{}, &CompanySubscription{}, &EmployeeMealAssignment{},
		&History{}, &OrderEventRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
