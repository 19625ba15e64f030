// Package domain содержит модели системы: заказы, линии обработки,
// элементы очередей и фазы запуска.
package domain
