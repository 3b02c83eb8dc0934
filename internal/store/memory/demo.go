package memory

import (
	"stockadmin/internal/core"
	"stockadmin/internal/store"
)

// DemoData is used when no seed file is present.
func DemoData() store.Export {
	return store.Export{
		core.CollectionUsers: {
			"u1": {"name": "Alice Rossi", "email": "alice@example.com", "blocked": false, "budget": 12500.0, "status": "admin", "password": "changeme"},
			"u2": {"name": "Bruno Verdi", "email": "bruno@example.com", "blocked": false, "budget": 830.5, "status": "user", "password": "changeme"},
			"u3": {"name": "Carla Neri", "email": "carla@example.com", "blocked": true, "budget": 0.0, "status": "user", "password": "changeme"},
		},
		core.CollectionCompanies: {
			"c1": {"name": "Acme Corp"},
			"c2": {"name": "Globex"},
		},
		core.CollectionTransactions: {
			"t1": {"companyId": "c1", "userId": "u1", "sharesBought": 10.0, "totalPaid": 1520.0, "timestamp": 1718000000000.0},
			"t2": {"companyId": "c1", "userId": "u2", "sharesBought": 5.0, "totalPaid": 760.0, "timestamp": 1718000500000.0},
			"t3": {"companyId": "c2", "userId": "u1", "sharesBought": 3.0, "totalPaid": 297.3, "timestamp": 1718001000000.0},
		},
	}
}
