package db

import "github.com/storefrontapp/storefront/internal/models"

type Order = models.Order
type OrderStatus = models.OrderStatus
type Transaction = models.Transaction
type OrphanedNotification = models.OrphanedNotification
